package ui

import "golang.org/x/term"

// IsTTY reports whether fd is a terminal.
func IsTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// Width returns the column count of the terminal on fd. It is 0 when fd is
// not a terminal or its size cannot be read, which turns the progress bar
// off.
func Width(fd uintptr) int {
	if !IsTTY(fd) {
		return 0
	}
	cols, _, err := term.GetSize(int(fd))
	if err != nil {
		return 0
	}
	return max(cols, 0)
}
