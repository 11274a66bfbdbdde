package main

import (
	"fmt"
	"strings"
)

// explainRequested reports whether --explain appears in the arguments, so
// a command can print its description before any flag parsing or store
// access happens.
func explainRequested(arguments []string) bool {
	for _, argument := range arguments {
		if argument == "--explain" || argument == "-explain" {
			return true
		}
	}
	return false
}

// writeExplain prints a command's one-paragraph description. An empty
// command name describes the tool itself.
func writeExplain(command, text string) int {
	if command == "" {
		fmt.Println(text)
	} else {
		fmt.Printf("callproof %s: %s\n", command, text)
	}
	return exitOK
}

// reorderInterspersedFlags moves flag tokens ahead of positionals so the
// stdlib flag package accepts "callproof verify bundle <id> --db <path>".
// valueFlags names the flags that consume the following argument.
func reorderInterspersedFlags(arguments []string, valueFlags map[string]bool) []string {
	if len(arguments) == 0 {
		return arguments
	}

	var flags, positionals []string
	for index := 0; index < len(arguments); index++ {
		argument := arguments[index]
		if argument == "--" {
			positionals = append(positionals, arguments[index+1:]...)
			break
		}
		if len(argument) < 2 || !strings.HasPrefix(argument, "-") {
			positionals = append(positionals, argument)
			continue
		}

		flags = append(flags, argument)
		if strings.Contains(argument, "=") {
			continue
		}
		name := strings.TrimLeft(argument, "-")
		if !valueFlags[argument] && !valueFlags[name] {
			continue
		}
		if index+1 < len(arguments) {
			index++
			flags = append(flags, arguments[index])
		}
	}
	return append(flags, positionals...)
}
