package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"

	"github.com/edvart/mazechase/internal/auth"
)

func main() {
	subject := flag.String("subject", "mailto:ops@example.com", "VAPID subject written to the output")
	out := flag.String("out", "", "also write the keys to this file (mode 0600)")
	flag.Parse()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to generate VAPID keys")
	}
	if _, err := base64.RawURLEncoding.DecodeString(publicKey); err != nil {
		logrus.WithError(err).Fatal("Generated public key is not base64url")
	}

	secret, err := auth.GenerateSecret()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to generate token secret")
	}

	envContent := fmt.Sprintf(`# Export these or add them to your .env file
MAZE_VAPID_PUBLIC_KEY=%s
MAZE_VAPID_PRIVATE_KEY=%s
MAZE_VAPID_SUBJECT=%s
MAZE_TOKEN_SECRET=%s
`, publicKey, privateKey, *subject, secret)

	if *out != "" {
		if err := os.WriteFile(*out, []byte(envContent), 0o600); err != nil {
			logrus.WithError(err).Fatal("Failed to write keys to file")
		}
		logrus.WithField("path", *out).Info("Keys saved")
	}

	fmt.Print(envContent)
}
