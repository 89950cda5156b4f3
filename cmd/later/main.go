// Command later schedules HTTP requests to be sent at a future time.
//
//	echo '{"hello":"world"}' | later --at +10m --url https://example.com/hook
//	later --list --queue a
//	later --remove 3,4
//	later serve --http :8080
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
