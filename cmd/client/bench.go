package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/urfave/cli/v3"
	"gitlab.com/dirk.krummacker/listdata-contacts/pkg/model"
)

// bench sends single-contact requests and prints the average latency per method in
// microseconds. The contacts it creates are deleted again.
func (r *runner) bench(ctx context.Context, cmd *cli.Command) error {
	timeout, err := r.config.Client.TimeoutDuration()
	if err != nil {
		return err
	}
	rc := resty.New().
		SetBaseURL(r.config.Client.Endpoint).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	resource := "/" + r.session.EntityType().DefaultResourceName()
	body := model.Contact{FirstName: "Marcus", LastName: "Antonius", EmailAddress: "marcus.antonius@example.com"}

	fmt.Println()
	fmt.Println("  Elements      POST       PUT       GET    DELETE ")
	fmt.Println("---------------------------------------------------")
	for _, loops := range cmd.IntSlice("sizes") {
		if loops < 1 {
			return fmt.Errorf("invalid size %d", loops)
		}
		fmt.Printf("%10d", loops)

		ids := make([]int64, 0, loops)
		var duration time.Duration
		for i := 0; i < loops; i++ {
			id, d, err := sendPostRequest(ctx, rc, resource, body)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			duration += d
		}
		fmt.Printf("%10d", duration.Microseconds()/int64(loops))

		update := model.Contact{LastName: "Augustus"}
		for _, method := range []string{http.MethodPut, http.MethodGet, http.MethodDelete} {
			f := func(id int64) (time.Duration, error) {
				return sendPutGetDeleteRequest(ctx, rc, method, resource+"/"+strconv.FormatInt(id, 10), update)
			}
			if err := callInLoop(ids, f); err != nil {
				return err
			}
		}
		fmt.Println()
	}
	return nil
}

// callInLoop calls f for every id in random order and prints the average duration.
func callInLoop(ids []int64, f func(id int64) (time.Duration, error)) error {
	var duration time.Duration
	for _, id := range createRandomSliceWithIDs(ids) {
		d, err := f(id)
		if err != nil {
			return err
		}
		duration += d
	}
	fmt.Printf("%10d", duration.Microseconds()/int64(len(ids)))
	return nil
}

func createRandomSliceWithIDs(ids []int64) []int64 {
	shuffled := append([]int64(nil), ids...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

func sendPostRequest(ctx context.Context, rc *resty.Client, path string, contact model.Contact) (int64, time.Duration, error) {
	var created model.EntityEnvelope
	resp, err := rc.R().SetContext(ctx).SetBody(contact).SetResult(&created).Post(path)
	if err != nil {
		return 0, 0, fmt.Errorf("error making http request: %w", err)
	}
	if resp.IsError() {
		return 0, 0, fmt.Errorf("POST %s: %s", path, resp.Status())
	}
	return created.D.Id, resp.Time(), nil
}

func sendPutGetDeleteRequest(ctx context.Context, rc *resty.Client, method, path string, contact model.Contact) (time.Duration, error) {
	req := rc.R().SetContext(ctx)
	if method == http.MethodPut {
		req.SetBody(contact)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return 0, fmt.Errorf("error making http request: %w", err)
	}
	if resp.IsError() {
		fmt.Fprintln(os.Stderr, method, path, resp.Status())
	}
	return resp.Time(), nil
}
