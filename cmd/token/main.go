// Command token mints a development bearer token for a user id.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dmitrijs2005/notesync/internal/server/auth"
)

func main() {
	var (
		userID   string
		secret   string
		validity time.Duration
	)

	flag.StringVar(&userID, "u", "", "user id")
	flag.StringVar(&secret, "s", "secretKey", "HMAC secret shared with the server")
	flag.DurationVar(&validity, "ttl", 24*time.Hour, "token validity")
	flag.Parse()

	if userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	tok, err := auth.GenerateToken(userID, []byte(secret), validity)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Println(tok)
}
