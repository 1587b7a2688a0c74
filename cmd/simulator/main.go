package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Global flags
	apiURL := "http://localhost:8080"
	if envURL := os.Getenv("API_URL"); envURL != "" {
		apiURL = envURL
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "populate":
		populateCmd(apiURL, args)
	case "session":
		sessionCmd(apiURL, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Portal Simulator - Development tool for exercising the auth API

USAGE:
  simulator <command> [options]

COMMANDS:
  populate  Register fake student accounts
  session   Walk one account through login, refresh rotation and logout
  help      Show this help message

ENVIRONMENT:
  API_URL   Backend API URL (default: http://localhost:8080)

EXAMPLES:
  # Register 10 students sharing one password
  simulator populate --count=10

  # Check that a replayed refresh token is refused
  simulator session`)
}

func populateCmd(apiURL string, args []string) {
	fs := flag.NewFlagSet("populate", flag.ExitOnError)
	count := fs.Int("count", 5, "Number of students to register")
	password := fs.String("password", "testpassword123", "Password for every account")
	domain := fs.String("domain", "school.example", "Email domain for the accounts")
	fs.Parse(args)

	if *count < 1 || *count > 500 {
		fmt.Println("Error: --count must be between 1 and 500")
		os.Exit(1)
	}

	fmt.Printf("=== Registering %d students ===\n", *count)
	stamp := time.Now().UnixNano() % 100000

	for i := 1; i <= *count; i++ {
		email := fmt.Sprintf("student%d_%d@%s", i, stamp, *domain)
		user, err := NewAPIClient(apiURL).RegisterUser(email, *password, fmt.Sprintf("Student %d", i))
		if err != nil {
			fmt.Printf("  [%d/%d] FAILED: %v\n", i, *count, err)
			os.Exit(1)
		}
		fmt.Printf("  [%d/%d] %s (%s)\n", i, *count, user.Email, user.ID)
	}

	fmt.Println()
	fmt.Printf("All accounts use the password %q\n", *password)
}

func sessionCmd(apiURL string, args []string) {
	fs := flag.NewFlagSet("session", flag.ExitOnError)
	password := fs.String("password", "testpassword123", "Password for the throwaway account")
	fs.Parse(args)

	email := fmt.Sprintf("session_%d@school.example", time.Now().UnixNano()%100000)

	step("Registering "+email, func() error {
		_, err := NewAPIClient(apiURL).RegisterUser(email, *password, "Session Check")
		return err
	})

	client := NewAPIClient(apiURL)
	step("Logging in", func() error {
		_, err := client.Login(email, *password)
		return err
	})
	step("Fetching profile", func() error {
		_, err := client.Me()
		return err
	})

	original := client.RefreshToken()
	step("Rotating refresh token", func() error {
		if _, err := client.Refresh(); err != nil {
			return err
		}
		if client.RefreshToken() == original {
			return fmt.Errorf("refresh token was not rotated")
		}
		return nil
	})
	step("Replaying the old refresh token", func() error {
		status, err := client.RefreshWith(original)
		if err != nil {
			return err
		}
		if status != http.StatusUnauthorized {
			return fmt.Errorf("expected 401, got %d", status)
		}
		return nil
	})

	rotated := client.RefreshToken()
	step("Logging out", client.Logout)
	step("Refreshing after logout", func() error {
		status, err := client.RefreshWith(rotated)
		if err != nil {
			return err
		}
		if status != http.StatusUnauthorized {
			return fmt.Errorf("expected 401, got %d", status)
		}
		return nil
	})

	fmt.Println()
	fmt.Println("Session flow behaves as expected")
}

func step(name string, fn func() error) {
	fmt.Printf("%s... ", name)
	if err := fn(); err != nil {
		fmt.Printf("FAILED\n  Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}
