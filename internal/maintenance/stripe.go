package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"cocalc-hub/internal/storage"
)

var ErrNoStripeKey = errors.New("maintenance: stripe secret key is not configured")

const (
	stripeConcurrency = 4
	stripeRate        = 20 // requests per second, below the live-mode API limit
)

// StripeClient fetches customer objects from the Stripe REST API.
type StripeClient struct {
	BaseURL string
	Key     string
	HTTP    *http.Client

	// Limiter, when set, paces requests.
	Limiter *rate.Limiter
}

func newHTTPClient(timeout time.Duration) *http.Client {
	base, _ := http.DefaultTransport.(*http.Transport)
	tr := base.Clone()
	tr.MaxIdleConnsPerHost = 8
	tr.ForceAttemptHTTP2 = true
	return &http.Client{Transport: tr, Timeout: timeout}
}

// Customer returns the raw JSON of one customer.
func (c StripeClient) Customer(ctx context.Context, id string) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/v1/customers/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.Key, "")

	client := c.HTTP
	if client == nil {
		client = newHTTPClient(30 * time.Second)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stripe customer %s: %s", id, resp.Status)
	}
	return body, nil
}

func (r Runner) stripeSync(ctx context.Context, log logrus.FieldLogger) error {
	key, ok, err := storage.GetServerSetting(ctx, r.DB, storage.SettingStripeSecretKey)
	if err != nil {
		return err
	}
	if !ok || strings.TrimSpace(key) == "" {
		return ErrNoStripeKey
	}

	client := StripeClient{
		BaseURL: r.Opts.StripeAPIBase,
		Key:     key,
		HTTP:    r.HTTPClient,
		Limiter: rate.NewLimiter(rate.Limit(stripeRate), stripeConcurrency),
	}
	n, err := SyncStripeCustomers(ctx, r.DB, client, log)
	if err != nil {
		return err
	}
	log.WithField("customers", n).Info("stripe sync finished")
	return nil
}

// SyncStripeCustomers stores the current customer object of every account
// linked to Stripe. A failed fetch for one account is logged and skipped;
// a failed write aborts the sync.
func SyncStripeCustomers(ctx context.Context, db *storage.DB, client StripeClient, log logrus.FieldLogger) (int, error) {
	accounts, err := storage.ListStripeAccounts(ctx, db)
	if err != nil {
		return 0, err
	}

	var synced atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(stripeConcurrency)
	for _, a := range accounts {
		g.Go(func() error {
			body, err := client.Customer(gctx, a.CustomerID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.WithError(err).WithField("account_id", a.AccountID).Warn("stripe customer fetch failed")
				return nil
			}
			if err := storage.SetStripeCustomer(gctx, db, a.AccountID, body); err != nil {
				return fmt.Errorf("store customer of %s: %w", a.AccountID, err)
			}
			synced.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(synced.Load()), err
}
