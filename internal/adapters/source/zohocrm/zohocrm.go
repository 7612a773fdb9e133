// Package zohocrm implements the Zoho CRM source adapter, grounded on
// original_source/universal_migration_service/adapters/sources/zoho_source.py:
// a refresh-token OAuth2 exchange, module-metadata-driven schema
// (every field comes back as a string, matching the original's
// ClickHouse-only field typing), and paginated module reads. The access
// token is refreshed by the oauth2 token source when it expires; a 401
// response is not treated specially.
package zohocrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	"github.com/stanstork/migratum/internal/pipeline"
)

const SourceKey = "zohocrm"

var accountsDomains = map[string]string{
	"https://www.zohoapis.in":    "https://accounts.zoho.in",
	"https://www.zohoapis.com":   "https://accounts.zoho.com",
	"https://www.zohoapis.eu":    "https://accounts.zoho.eu",
	"https://www.zohoapis.com.au": "https://accounts.zoho.com.au",
	"https://www.zohoapis.jp":    "https://accounts.zoho.jp",
}

type Adapter struct {
	httpClient   *http.Client
	tokenSource  oauth2.TokenSource
	apiDomain    string
	clientID     string
	clientSecret string
	refreshToken string
}

func New() *Adapter {
	return &Adapter{httpClient: &http.Client{Timeout: 120 * time.Second}}
}

func (a *Adapter) SourceKey() string { return SourceKey }

func (a *Adapter) Connect(ctx context.Context, config map[string]any) error {
	a.refreshToken, _ = config["refresh_token"].(string)
	a.clientID, _ = config["client_id"].(string)
	a.clientSecret, _ = config["client_secret"].(string)
	a.apiDomain, _ = config["api_domain"].(string)
	if a.apiDomain == "" {
		a.apiDomain = "https://www.zohoapis.in"
	}
	if a.refreshToken == "" || a.clientID == "" || a.clientSecret == "" {
		return &pipeline.ConnectionError{Adapter: SourceKey, Cause: fmt.Errorf("refresh_token, client_id, and client_secret are required")}
	}

	accountsDomain := accountsDomains[a.apiDomain]
	if accountsDomain == "" {
		accountsDomain = "https://accounts.zoho.in"
	}
	oauthCfg := &oauth2.Config{
		ClientID:     a.clientID,
		ClientSecret: a.clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: accountsDomain + "/oauth/v2/token"},
	}
	a.tokenSource = oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: a.refreshToken})

	if _, err := a.tokenSource.Token(); err != nil {
		return &pipeline.AuthError{Adapter: SourceKey, Cause: err}
	}
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.tokenSource = nil
	return nil
}

func (a *Adapter) authHeader() (string, error) {
	tok, err := a.tokenSource.Token()
	if err != nil {
		return "", err
	}
	return "Zoho-oauthtoken " + tok.AccessToken, nil
}

func (a *Adapter) ListTables(ctx context.Context) ([]string, error) {
	auth, err := a.authHeader()
	if err != nil {
		return nil, &pipeline.AuthError{Adapter: SourceKey, Cause: err}
	}
	u := a.apiDomain + "/crm/v8/settings/modules"
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	req.Header.Set("Authorization", auth)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list zoho modules: status %d", resp.StatusCode)
	}
	var result struct {
		Modules []struct {
			APIName string `json:"api_name"`
		} `json:"modules"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Modules))
	for _, m := range result.Modules {
		if m.APIName != "" {
			names = append(names, m.APIName)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (a *Adapter) GetSchema(ctx context.Context, table string) (pipeline.TableDescriptor, error) {
	fields, err := a.moduleFieldNames(ctx, table)
	if err != nil {
		return pipeline.TableDescriptor{Name: table, Columns: []pipeline.Column{
			{Name: "id", SourceType: "string", Nullable: false},
		}}, nil
	}
	desc := pipeline.TableDescriptor{Name: table, PrimaryKey: []string{"id"}}
	for _, f := range fields {
		desc.Columns = append(desc.Columns, pipeline.Column{Name: f, SourceType: "string", Nullable: f != "id"})
	}
	return desc, nil
}

func (a *Adapter) moduleFieldNames(ctx context.Context, module string) ([]string, error) {
	auth, err := a.authHeader()
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/crm/v2/settings/modules/%s", a.apiDomain, module)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	req.Header.Set("Authorization", auth)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch field metadata for %s: status %d", module, resp.StatusCode)
	}
	var payload struct {
		Modules []struct {
			Fields []struct {
				APIName string `json:"api_name"`
			} `json:"fields"`
		} `json:"modules"`
		Fields []struct {
			APIName string `json:"api_name"`
		} `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	fieldSet := map[string]bool{"id": true}
	if len(payload.Modules) > 0 {
		for _, f := range payload.Modules[0].Fields {
			if f.APIName != "" {
				fieldSet[f.APIName] = true
			}
		}
	}
	for _, f := range payload.Fields {
		if f.APIName != "" {
			fieldSet[f.APIName] = true
		}
	}
	if len(fieldSet) == 0 {
		return nil, fmt.Errorf("no fields returned for module %s", module)
	}
	names := make([]string, 0, len(fieldSet))
	for n := range fieldSet {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (a *Adapter) GetPrimaryKey(ctx context.Context, table string) ([]string, error) {
	return []string{"id"}, nil
}

func (a *Adapter) GetForeignKeys(ctx context.Context, table string) ([]pipeline.ForeignKey, error) {
	return nil, nil
}

func (a *Adapter) GetUniqueConstraints(ctx context.Context, table string) ([][]string, error) {
	return nil, nil
}

func (a *Adapter) GetIndexes(ctx context.Context, table string) ([]pipeline.Index, error) {
	return nil, nil
}

// ReadIncremental has no native support in the Zoho CRM v2 module API
// (spec §4.1's incremental contract degrades gracefully here, matching
// the original's read-everything fallback).
func (a *Adapter) ReadIncremental(ctx context.Context, table string, since time.Time, batchSize int) (pipeline.RowStream, error) {
	return a.ReadData(ctx, table, batchSize)
}

func (a *Adapter) ReadData(ctx context.Context, table string, batchSize int) (pipeline.RowStream, error) {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &moduleStream{a: a, module: table, perPage: batchSize, page: 1}, nil
}

// moduleStream pages through a Zoho CRM module, retrying failed page
// fetches (transport errors and non-200/204 statuses, 401 included) with
// bounded exponential backoff instead of the original's fixed 2s sleep.
// Each attempt takes the current token from the oauth2 token source,
// which refreshes it only once it has expired.
type moduleStream struct {
	a       *Adapter
	module  string
	perPage int
	page    int
	done    bool
}

func (s *moduleStream) Next(ctx context.Context) (pipeline.Batch, bool, error) {
	if s.done {
		return nil, false, nil
	}

	var batch pipeline.Batch
	var moreRecords bool

	op := func() error {
		auth, err := s.a.authHeader()
		if err != nil {
			return backoff.Permanent(err)
		}
		u := fmt.Sprintf("%s/crm/v2/%s?page=%d&per_page=%d", s.a.apiDomain, s.module, s.page, s.perPage)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", auth)
		resp, err := s.a.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusNoContent:
			s.done = true
			return nil
		case http.StatusOK:
			var result struct {
				Data []map[string]any `json:"data"`
				Info struct {
					MoreRecords bool `json:"more_records"`
				} `json:"info"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				return err
			}
			if len(result.Data) == 0 {
				s.done = true
				return nil
			}
			for _, rec := range result.Data {
				batch = append(batch, normalizeRow(rec))
			}
			moreRecords = result.Info.MoreRecords
			return nil
		default:
			return fmt.Errorf("%s fetch failed: status %d", s.module, resp.StatusCode)
		}
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, false, err
	}
	if len(batch) == 0 {
		return nil, false, nil
	}
	if !moreRecords {
		s.done = true
	} else {
		s.page++
	}
	return batch, true, nil
}

func normalizeRow(rec map[string]any) pipeline.Row {
	row := make(pipeline.Row, len(rec))
	for k, v := range rec {
		row[k] = normalizeValue(v)
	}
	return row
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
