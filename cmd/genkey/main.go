package main

import (
	"fmt"
	"os"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
)

// genkey prints fresh values for API_KEY_SECRET and WEBHOOK_SECRET.
// Pass "api" or "webhook" to print only one.
func main() {
	kinds := []struct{ env, kind string }{
		{"API_KEY_SECRET", domain.SecretAPIKey},
		{"WEBHOOK_SECRET", domain.SecretWebhook},
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "api":
			kinds = kinds[:1]
		case "webhook":
			kinds = kinds[1:]
		default:
			fmt.Fprintln(os.Stderr, "usage: genkey [api|webhook]")
			os.Exit(2)
		}
	}

	for _, k := range kinds {
		secret, err := domain.GenerateSecret(k.kind)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Printf("%s=%s\n", k.env, secret)
	}
}
