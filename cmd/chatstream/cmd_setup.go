package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/chatstream/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Chatstream Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		// 1. Backend base URL
		cfg.Backend.BaseURL = prompt(scanner, "Backend base URL", cfg.Backend.BaseURL)

		// 2. Application name
		cfg.Backend.AppName = prompt(scanner, "Application name", cfg.Backend.AppName)

		// 3. User ID
		cfg.Backend.UserID = prompt(scanner, "User ID", cfg.Backend.UserID)

		// 4. API key (optional)
		cfg.Backend.APIKey = prompt(scanner, "API key (optional)", cfg.Backend.APIKey)

		// 5. Retry attempts
		attemptsStr := prompt(scanner, "Max retry attempts", strconv.Itoa(cfg.Retry.MaxAttempts))
		if n, err := strconv.Atoi(attemptsStr); err == nil && n > 0 {
			cfg.Retry.MaxAttempts = n
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
