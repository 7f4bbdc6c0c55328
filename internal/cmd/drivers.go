package main

// Protocol drivers self-register through their init. The binary selects one
// by the terminal_driver config key.
import (
	_ "github.com/meden/biosync/internal/terminal/memory"
)
