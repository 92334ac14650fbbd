package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/DevGitPit/supertonic/internal/engine"
)

var version = "0.1.0-dev"

func main() {
	var stylePaths string
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&stylePaths, "file", "voice_styles/F1.json", "Comma-separated voice style files to batch")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		summary, err := runValidate(strings.Split(stylePaths, ","))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(summary)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runValidate(paths []string) (string, error) {
	style, err := engine.ReadVoiceStyles(paths)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("voice style valid: batch=%d ttl=%v dp=%v", style.Batch(), style.TTL.Dims, style.DP.Dims), nil
}
