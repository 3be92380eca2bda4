/*
battery-tester - Discharge tests batteries and reports their capacity
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package sink

import (
	"bufio"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/TheCacophonyProject/battery-tester/internal/discharge"
	"github.com/pkg/errors"
)

const trimInterval = 24 * time.Hour

// CSVRecorder appends every measurement to a CSV file. The file is cut down
// to its last maxRows lines when the recorder starts and once a day after that.
type CSVRecorder struct {
	path     string
	maxRows  int
	mu       sync.Mutex
	lastTrim time.Time
	now      func() time.Time
}

func NewCSVRecorder(path string, maxRows int) (*CSVRecorder, error) {
	r := &CSVRecorder{
		path:    path,
		maxRows: maxRows,
		now:     time.Now,
	}
	if err := keepLastLines(path, maxRows); err != nil {
		return nil, err
	}
	r.lastTrim = r.now()
	return r, nil
}

func (r *CSVRecorder) Record(m discharge.Measurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.now().Sub(r.lastTrim) > trimInterval {
		if err := keepLastLines(r.path, r.maxRows); err != nil {
			return err
		}
		r.lastTrim = r.now()
	}

	file, err := os.OpenFile(r.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(file)
	err = w.Write([]string{
		m.Time.Format(time.RFC3339),
		strconv.Itoa(int(m.Slot)),
		strconv.FormatFloat(m.Voltage, 'f', 3, 64),
		strconv.FormatBool(m.RelayOpen),
		strconv.FormatBool(m.Testing),
		strconv.FormatUint(uint64(m.Session), 10),
		m.State.String(),
	})
	if err == nil {
		w.Flush()
		err = w.Error()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "writing to %s", r.path)
}

// keepLastLines keeps the last maxLines lines of the file.
func keepLastLines(path string, maxLines int) error {
	if maxLines <= 0 {
		return nil
	}
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > 2*maxLines {
			lines = append(lines[:0], lines[len(lines)-maxLines:]...)
		}
	}
	file.Close()
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	if len(lines) <= maxLines {
		return nil
	}
	lines = lines[len(lines)-maxLines:]

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	err = w.Flush()
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "trimming %s", path)
	}
	return os.Rename(tmp.Name(), path)
}
