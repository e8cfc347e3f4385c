package main

import (
	"fmt"
	"os"
	"time"

	"besedka/internal/auth"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Println("Usage: tokeninfo <jwt>")
		os.Exit(1)
	}

	exp, err := auth.TokenExpiry(os.Args[1])
	if err != nil {
		fmt.Printf("Error reading token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("expires %s", exp.Format(time.RFC3339))
	if left := time.Until(exp); left > 0 {
		fmt.Printf(" (in %s)\n", left.Round(time.Second))
	} else {
		fmt.Printf(" (expired %s ago)\n", (-left).Round(time.Second))
	}
}
