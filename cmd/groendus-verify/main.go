// groendus-verify exercises the Cognito login and the GraphQL queries
// against real credentials, without MQTT or state persistence. Useful for
// debugging the vendor side in isolation.
//
// Credentials come from GROENDUS_EMAIL / GROENDUS_PASSWORD (a .env file in
// the working directory is honoured).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/jvanveen/groendus-hass/internal/api"
	"github.com/jvanveen/groendus-hass/internal/auth"
	"github.com/jvanveen/groendus-hass/internal/config"
)

func main() {
	_ = godotenv.Load()

	email := os.Getenv("GROENDUS_EMAIL")
	password := os.Getenv("GROENDUS_PASSWORD")
	if email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "Missing GROENDUS_EMAIL / GROENDUS_PASSWORD in environment/.env")
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	logger.SetLevel(logrus.DebugLevel)

	ctx := context.Background()

	fmt.Println("Authenticating with Cognito...")
	authClient := auth.NewClient(auth.Credentials{Email: email, Password: password}, logger)
	tokens, err := authClient.Login(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Login failed")
	}
	fmt.Printf("Auth OK, token expires at %s\n", tokens.ExpiresAt.Format(time.RFC3339))

	apiClient := api.NewClient(logger)

	fmt.Println("Fetching driver/chargepoints (bootstrap)...")
	driver, err := apiClient.Bootstrap(ctx, tokens.IDToken)
	if err != nil {
		logger.WithError(err).Fatal("Bootstrap failed")
	}
	fmt.Printf("Driver: %s %s (%s)\n", driver.FirstName, driver.LastName, driver.Email)
	fmt.Printf("Chargepoints: %d\n", len(driver.Chargepoints))
	for i, cp := range driver.Chargepoints {
		if i >= 5 {
			break
		}
		fmt.Printf(" - %s (public=%t)\n", cp.ChargepointID, cp.IsPublic)
	}

	fmt.Println("Fetching transactions...")
	page, err := apiClient.ListTransactions(ctx, tokens.IDToken, 1, 10)
	if err != nil {
		logger.WithError(err).Fatal("Transaction fetch failed")
	}
	fmt.Printf("Transactions returned: %d (totalCount=%d)\n", len(page.Items), page.TotalCount)
	if len(page.Items) > 0 {
		newest := page.Items[0]
		oldest := page.Items[len(page.Items)-1]
		fmt.Printf("Newest start: %s (id=%s)\n", newest.StartDateTime, newest.ID)
		fmt.Printf("Oldest start: %s (id=%s)\n", oldest.StartDateTime, oldest.ID)
	}

	fmt.Println("Verifying token refresh...")
	if tokens.RefreshToken == "" {
		fmt.Println("No refresh token issued, skipping")
	} else {
		refreshed, err := authClient.Refresh(ctx, tokens.RefreshToken)
		if err != nil {
			logger.WithError(err).Fatal("Refresh failed")
		}
		fmt.Printf("Refresh OK, new expiry %s (margin %s)\n",
			refreshed.ExpiresAt.Format(time.RFC3339), config.TokenSafetyMargin)
	}

	fmt.Println("OK.")
}
