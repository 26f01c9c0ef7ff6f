// Package config loads and validates crmsync configuration.
//
// # Loading
//
//	cfg, err := config.Load("crmsync.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Load starts from NewConfig defaults, merges the YAML file on top and then
// applies CRMSYNC_* environment overrides. Keys map to variables by
// upper-casing and replacing dots with underscores:
//
//	bulk.poll_interval      -> CRMSYNC_BULK_POLL_INTERVAL
//	crm.credentials.username -> CRMSYNC_CRM_CREDENTIALS_USERNAME
//
// # Environment Variable Substitution
//
//	# crmsync.yaml
//	crm:
//	  credentials:
//	    username: ${SF_USERNAME}
//	    password: ${SF_PASSWORD}
//	    client_id: ${SF_CLIENT_ID}
//	    client_secret: ${SF_CLIENT_SECRET}
//	bulk:
//	  poll_interval: 5s
//	  max_polls: 720
//
// Validation runs on load and reports every invalid field in one error.
package config
