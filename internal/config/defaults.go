package config

import "time"

// Central place for all application-wide timing constants and other defaults.
// Changing a value here immediately affects all components that import
// github.com/jvanveen/groendus-hass/internal/config.

const (
	// Polling / transmission intervals
	DefaultPollInterval  = 5 * time.Minute  // Poll the Groendus GraphQL API
	MQTTTransmitInterval = 60 * time.Second // Publish data to MQTT

	// Operation time-outs (to avoid blocking goroutines)
	CognitoTimeout = 15 * time.Second // Cognito token exchange
	GraphQLTimeout = 30 * time.Second // AppSync GraphQL call
	MQTTTimeout    = 5 * time.Second  // MQTT publish

	// Token handling
	TokenSafetyMargin = 2 * time.Minute // Refresh this long before the token expires

	// Transactions
	DefaultMaxPages     = 5   // Pages of transactions fetched per poll at most
	TransactionPageSize = 50  // Vendor default page size
	SeenTransactionCap  = 500 // Dedup window for counted transaction ids
)

// Reverse-engineered Groendus portal endpoints (Athlon tenant, fixed region).
const (
	CognitoRegion   = "eu-central-1"
	CognitoClientID = "387nbhei8uvf13f7ck4c5ivaa2"
	GraphQLEndpoint = "https://kylqo4g6gres3lmw4rtqaoftke.appsync-api.eu-central-1.amazonaws.com/graphql"
)
