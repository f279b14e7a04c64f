package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/klipach/contactcast/auth"
	"github.com/klipach/contactcast/config"
)

// Prints an ID token for -uid, usable as "Authorization: Bearer <token>".
// Needs a service account with permission to sign custom tokens.
func main() {
	ctx := context.Background()
	uidPtr := flag.String("uid", "", "User UID for token generation")
	credentialsPtr := flag.String("credentials", "./service_account_key.json", "Service account key file")
	flag.Parse()

	if *uidPtr == "" {
		log.Fatalf("Please provide a user UID using the -uid flag")
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	provider, err := auth.NewFirebaseProvider(ctx, auth.FirebaseConfig{
		ProjectID:          cfg.Firebase.ProjectID,
		APIKey:             cfg.Firebase.APIKey,
		CredentialsFile:    *credentialsPtr,
		IdentityToolkitURL: cfg.Firebase.IdentityToolkitURL,
	})
	if err != nil {
		log.Fatalf("error initializing app: %v", err)
	}

	cred, err := provider.IDTokenForUID(ctx, *uidPtr)
	if err != nil {
		log.Fatalf("error exchanging custom token: %v", err)
	}
	fmt.Println(cred.IDToken)
}
