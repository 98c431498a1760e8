package models

import "time"

// SourceType represents how a news source is collected
type SourceType string

const (
	SourceScrape SourceType = "scrape"
	SourceRSS    SourceType = "rss"
	SourceAPI    SourceType = "api"
)

// NewsSource represents a registered article origin
type NewsSource struct {
	ID               int64      `json:"id" db:"id"`
	Name             string     `json:"name" db:"name"`
	URL              string     `json:"url" db:"url"`
	SourceType       SourceType `json:"source_type" db:"source_type"`
	ReliabilityScore float64    `json:"reliability_score" db:"reliability_score"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// NewsCategory represents a topic bucket articles can be linked to
type NewsCategory struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
}

// Article represents a stored news article. (SourceID, URL) is the
// dedup identity; IsProcessed advances once embedding completes.
type Article struct {
	ID             int64      `json:"id" db:"id"`
	SourceID       int64      `json:"source_id" db:"source_id"`
	URL            string     `json:"url" db:"url"`
	Title          string     `json:"title" db:"title"`
	Summary        string     `json:"summary" db:"summary"`
	Content        string     `json:"content" db:"content"`
	PublishedAt    *time.Time `json:"published_at,omitempty" db:"published_at"`
	ScrapedAt      time.Time  `json:"scraped_at" db:"scraped_at"`
	SentimentScore *float64   `json:"sentiment_score,omitempty" db:"sentiment_score"`
	SentimentLabel *string    `json:"sentiment_label,omitempty" db:"sentiment_label"`
	RelevanceScore float64    `json:"relevance_score" db:"relevance_score"`
	IsProcessed    bool       `json:"is_processed" db:"is_processed"`
	ContentHash    string     `json:"-" db:"content_hash"`
	SourceName     string     `json:"source_name,omitempty" db:"source_name"`
}

// FeedItem represents a normalized article from a provider boundary
// before it is resolved against the source catalog.
type FeedItem struct {
	SourceName  string     `json:"source_name"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	Content     string     `json:"content"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
}

// AssetMention links an article to an asset it talks about. Identity is
// (article, asset type, symbol); AssetID is set only when the symbol
// resolves against the catalog.
type AssetMention struct {
	ArticleID    int64  `json:"article_id" db:"article_id"`
	AssetType    string `json:"asset_type" db:"asset_type"`
	AssetSymbol  string `json:"asset_symbol" db:"asset_symbol"`
	AssetID      *int64 `json:"asset_id,omitempty" db:"asset_id"`
	MentionCount int    `json:"mention_count" db:"mention_count"`
	IsPrimary    bool   `json:"is_primary" db:"is_primary"`
	Context      string `json:"context" db:"context"`
	AssetName    string `json:"asset_name,omitempty" db:"asset_name"`
}

// Mention asset types.
const (
	AssetTypeCrypto = "crypto"
	AssetTypeStock  = "stock"
)

// EmbeddingChunk represents one embedded slice of an article for a given
// model. (ArticleID, ChunkIndex, Model) is the generation identity.
type EmbeddingChunk struct {
	ID         int64     `json:"id" db:"id"`
	ArticleID  int64     `json:"article_id" db:"article_id"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	ChunkText  string    `json:"chunk_text" db:"chunk_text"`
	Embedding  []float64 `json:"-" db:"embedding"`
	Model      string    `json:"model" db:"embedding_model"`
	TokenCount int       `json:"token_count" db:"token_count"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// SearchHit represents one vector search result with provenance back to
// the owning article and source.
type SearchHit struct {
	Similarity   float64    `json:"similarity" db:"similarity"`
	ChunkText    string     `json:"chunk_text" db:"chunk_text"`
	ChunkIndex   int        `json:"chunk_index" db:"chunk_index"`
	ArticleID    int64      `json:"article_id" db:"article_id"`
	ArticleTitle string     `json:"article_title" db:"article_title"`
	ArticleURL   string     `json:"article_url" db:"article_url"`
	SourceName   string     `json:"source_name" db:"source_name"`
	PublishedAt  *time.Time `json:"published_at,omitempty" db:"published_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// SentimentSummary aggregates article sentiment over a window
type SentimentSummary struct {
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	TotalArticles    int       `json:"total_articles"`
	BullishCount     int       `json:"bullish_count"`
	BearishCount     int       `json:"bearish_count"`
	NeutralCount     int       `json:"neutral_count"`
	AverageSentiment float64   `json:"average_sentiment"`
}

// OverallLabel maps the average score to a coarse market mood
func (s *SentimentSummary) OverallLabel() string {
	if s.AverageSentiment > 0.2 {
		return "bullish"
	} else if s.AverageSentiment < -0.2 {
		return "bearish"
	}
	return "neutral"
}
