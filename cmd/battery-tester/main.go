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

package main

import (
	"os"

	"github.com/TheCacophonyProject/battery-tester/internal/tester"
)

var version = "<not set>"

func main() {
	if err := tester.Run(os.Args[1:], version); err != nil {
		tester.Logger().Fatal(err)
	}
}
