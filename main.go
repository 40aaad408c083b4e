package main

import (
	"fmt"
	"os"

	"github.com/PolarWolf314/sharevault/cmd"
	"github.com/PolarWolf314/sharevault/internal/ui"
)

func main() {
	if err := cmd.RootCmd.Execute(); err != nil {
		if !cmd.IsReported(err) {
			fmt.Fprintln(os.Stderr, ui.Error.Sprint("Error: ")+err.Error())
		}
		os.Exit(1)
	}
}
