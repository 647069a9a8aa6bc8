package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"gitlab.com/dirk.krummacker/listdata-contacts/internal/client"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/config"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/metadata"
)

// Usage example on the command line:
// > LISTDATA_ENDPOINT=http://localhost:8080/_vti_bin/listdata.svc go run main.go -interval=5s
func main() {
	intervalPtr := flag.Duration("interval", 5*time.Second, "the time between two attempts")
	maxWaitPtr := flag.Duration("max-wait", 0, "give up after this time, 0 waits forever")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Println("could not load configuration", err)
		os.Exit(1)
	}
	store, err := metadata.NewContactStore()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	session, err := client.NewSession(client.DataService{ServiceName: cfg.Client.Endpoint}, store, metadata.ContactTypeName,
		client.WithTimeout(*intervalPtr))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	ctx := context.Background()
	if *maxWaitPtr > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *maxWaitPtr)
		defer cancel()
	}
	if err := waitUntilAvailable(ctx, session, *intervalPtr, func(waited time.Duration, err error) {
		fmt.Println(err)
		fmt.Printf("Waiting %d seconds", int(waited.Seconds()))
		fmt.Println()
	}); err != nil {
		fmt.Println("service did not become available", err)
		os.Exit(1)
	}
	fmt.Println("service is available at", cfg.Client.Endpoint)
}

// waitUntilAvailable reads one contact until the service answers. Each failed attempt is
// reported together with the total waiting time so far.
func waitUntilAvailable(ctx context.Context, session *client.Session, interval time.Duration, report func(time.Duration, error)) error {
	var totalWaitTime time.Duration
	for {
		_, err := session.Query(ctx, client.Query{Top: 1})
		if err == nil {
			return nil
		}
		totalWaitTime += interval
		report(totalWaitTime, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
