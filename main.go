package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
)

func main() {
	gin.SetMode(gin.ReleaseMode)

	app := NewApp(os.Stdout)
	rootCmd := SetupCommands(app)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		app.Close()
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}
