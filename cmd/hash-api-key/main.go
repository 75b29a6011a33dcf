// hash-api-key produces the bcrypt hash of a client API key for the
// api.clients section of the configuration. The key is read from stdin so
// it never lands in shell history.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/evicertia/pn-ec/internal/auth"
)

func main() {
	fmt.Fprint(os.Stderr, "api key: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "read key: %v\n", err)
		os.Exit(1)
	}
	key := strings.TrimRight(line, "\r\n")
	if key == "" {
		fmt.Fprintln(os.Stderr, "empty key")
		os.Exit(1)
	}

	hash, err := auth.HashAPIKey(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
