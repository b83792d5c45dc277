package allium

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

const identityQueryLimit = 10000

var (
	// DefaultIdentityChains are the chains identity labels are fetched for
	DefaultIdentityChains = []string{"ethereum", "polygon", "arbitrum", "optimism", "base"}
	// DefaultIdentityCategories are the entity kinds worth naming in an alert
	DefaultIdentityCategories = []string{"cex", "dex", "bridge", "fund"}

	sqlIdentifier = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// IdentityEntity is one labelled address from the identity dataset
type IdentityEntity struct {
	Address  string `json:"address"`
	Chain    string `json:"chain"`
	Name     string `json:"name"`
	Project  string `json:"project"`
	Category string `json:"category"`
}

type createQueryRequest struct {
	Title  string      `json:"title"`
	Config queryConfig `json:"config"`
}

type queryConfig struct {
	SQL   string `json:"sql"`
	Limit int    `json:"limit"`
}

type createQueryResponse struct {
	QueryID string `json:"query_id"`
}

type runQueryResponse struct {
	Data []IdentityEntity `json:"data"`
}

// IdentityEntities fetches labelled exchange, protocol and fund addresses.
// Nil chains or categories fall back to the defaults. Rows without an
// address are skipped; addresses are returned as the dataset stores them.
func (c *Client) IdentityEntities(ctx context.Context, chains, categories []string) ([]IdentityEntity, error) {
	if len(chains) == 0 {
		chains = DefaultIdentityChains
	}
	if len(categories) == 0 {
		categories = DefaultIdentityCategories
	}
	chainList, err := sqlList(chains)
	if err != nil {
		return nil, fmt.Errorf("identity chains: %w", err)
	}
	categoryList, err := sqlList(categories)
	if err != nil {
		return nil, fmt.Errorf("identity categories: %w", err)
	}

	sql := fmt.Sprintf(`SELECT address, chain, name, project, category
FROM common.identity.entities
WHERE chain IN (%s)
  AND category IN (%s)
  AND address IS NOT NULL
LIMIT %d`, chainList, categoryList, identityQueryLimit)

	var created createQueryResponse
	req := createQueryRequest{Title: "whalebot_identity", Config: queryConfig{SQL: sql, Limit: identityQueryLimit}}
	if err := c.postTo(ctx, c.explorerURL, "/queries", nil, req, &created); err != nil {
		return nil, fmt.Errorf("create identity query: %w", err)
	}
	if created.QueryID == "" {
		return nil, fmt.Errorf("create identity query: empty query_id")
	}

	var run runQueryResponse
	if err := c.postTo(ctx, c.explorerURL, "/queries/"+created.QueryID+"/run", nil, struct{}{}, &run); err != nil {
		return nil, fmt.Errorf("run identity query: %w", err)
	}

	out := make([]IdentityEntity, 0, len(run.Data))
	for _, e := range run.Data {
		if e.Address == "" {
			continue
		}
		out = append(out, e)
	}

	log.Info().Int("entities", len(out)).Msg("🏷️ Identity labels fetched")
	return out, nil
}

// sqlList renders identifiers as a quoted SQL list, rejecting anything
// that is not a plain lowercase identifier
func sqlList(items []string) (string, error) {
	quoted := make([]string, len(items))
	for i, item := range items {
		if !sqlIdentifier.MatchString(item) {
			return "", fmt.Errorf("invalid identifier %q", item)
		}
		quoted[i] = "'" + item + "'"
	}
	return strings.Join(quoted, ", "), nil
}
