// Spotify Web API implementation of [Source]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/spotlog/internal/metrics"
	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/shared"
)

const (
	spotifyTokenURL   = "https://accounts.spotify.com/api/token"
	spotifyBaseURL    = "https://api.spotify.com/v1"
	spotifyTrackURL   = "https://open.spotify.com/track/"
	maxRecentlyPlayed = 50
)

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Country     string `json:"country"`
	Product     string `json:"product"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Artists      []SpotifyArtist `json:"artists"`
	Album        SpotifyAlbum    `json:"album"`
	DurationMS   int             `json:"duration_ms"`
	ExternalURLs externalURLs    `json:"external_urls"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Genres       []string       `json:"genres"`
	Images       []SpotifyImage `json:"images"`
	ExternalURLs externalURLs   `json:"external_urls"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	ReleaseDate  string         `json:"release_date"`
	Images       []SpotifyImage `json:"images"`
	ExternalURLs externalURLs   `json:"external_urls"`
}

// SpotifyPlayHistory is one item of the recently-played endpoint.
type SpotifyPlayHistory struct {
	Track    SpotifyTrack `json:"track"`
	PlayedAt string       `json:"played_at"`
}

// SpotifyRecentlyPlayed is the recently-played response.
type SpotifyRecentlyPlayed struct {
	Items   []SpotifyPlayHistory `json:"items"`
	Cursors *struct {
		After  string `json:"after"`
		Before string `json:"before"`
	} `json:"cursors"`
	Limit int `json:"limit"`
}

// SpotifyOptions configures a [SpotifyService] for one user.
type SpotifyOptions struct {
	ClientID          string
	ClientSecret      string
	RefreshToken      string
	TokenURL          string
	BaseURL           string
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *log.Logger
}

// SpotifyService implements [Source] against the Spotify Web API.
//
// Access tokens are minted from the user's refresh token via [oauth2] and refreshed automatically.
type SpotifyService struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	limiter    *rate.Limiter
	logger     *log.Logger

	mu             sync.Mutex
	onTokenRefresh func(*oauth2.Token)
}

// NewSpotifyService creates a Spotify client authorized by opts.RefreshToken.
func NewSpotifyService(opts SpotifyOptions) (*SpotifyService, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret", shared.ErrMissingCredentials)
	}
	if opts.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token for user", shared.ErrAuthFailure)
	}

	if opts.TokenURL == "" {
		opts.TokenURL = spotifyTokenURL
	}
	if opts.BaseURL == "" {
		opts.BaseURL = spotifyBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	config := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: opts.TokenURL, AuthStyle: oauth2.AuthStyleInHeader},
	}

	s := &SpotifyService{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     opts.Logger,
	}

	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, opts.HTTPClient)
	base := config.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: opts.RefreshToken})
	s.tokens = oauth2.ReuseTokenSource(nil, &refreshableTokenSource{base: base, notify: s.notifyRefresh})

	return s, nil
}

// SetTokenRefreshCallback registers fn to receive every newly minted token.
// Spotify may rotate refresh tokens, so callers persist token.RefreshToken.
func (s *SpotifyService) SetTokenRefreshCallback(fn func(*oauth2.Token)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTokenRefresh = fn
}

func (s *SpotifyService) notifyRefresh(token *oauth2.Token) {
	s.mu.Lock()
	fn := s.onTokenRefresh
	s.mu.Unlock()
	if fn != nil {
		fn(token)
	}
}

// refreshableTokenSource reports each token fetched from base.
type refreshableTokenSource struct {
	base   oauth2.TokenSource
	notify func(*oauth2.Token)
}

func (r *refreshableTokenSource) Token() (*oauth2.Token, error) {
	token, err := r.base.Token()
	if err != nil {
		return nil, err
	}
	r.notify(token)
	return token, nil
}

// Name returns the name of the service.
func (s *SpotifyService) Name() string {
	return "Spotify"
}

// doRequest performs an authenticated GET against endpoint and decodes the JSON body into result.
func (s *SpotifyService) doRequest(ctx context.Context, name, endpoint string, result any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := s.tokens.Token()
	if err != nil {
		metrics.APIRequests.WithLabelValues("token", "error").Inc()
		return classifyTokenError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues(name, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("spotify %s: %w", name, ctxErr)
		}
		return fmt.Errorf("%w: spotify %s: %v", shared.ErrTransientIO, name, err)
	}
	defer resp.Body.Close()

	metrics.APIRequests.WithLabelValues(name, strconv.Itoa(resp.StatusCode/100)+"xx").Inc()

	if err := statusError(resp, name); err != nil {
		s.logger.Debug("spotify request failed", "endpoint", name, "status", resp.StatusCode)
		return err
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: failed to decode %s response: %v", shared.ErrTransientIO, name, err)
		}
	}

	return nil
}

// statusError maps a non-2xx response onto the sync error taxonomy.
func statusError(resp *http.Response, name string) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: spotify %s returned %d", shared.ErrAuthFailure, name, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: spotify %s", shared.ErrNotFound, name)
	case code == http.StatusTooManyRequests:
		return &shared.RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case code >= 500:
		return fmt.Errorf("%w: spotify %s returned %d", shared.ErrTransientIO, name, code)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: spotify %s returned %d: %s", shared.ErrAPIRequest, name, code, strings.TrimSpace(string(body)))
	}
}

// classifyTokenError treats a refresh the token endpoint rejected as an auth failure.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		if code == http.StatusTooManyRequests {
			return &shared.RateLimitError{RetryAfter: parseRetryAfter(re.Response.Header.Get("Retry-After"), time.Now())}
		}
		if code >= 400 && code < 500 {
			return fmt.Errorf("%w: token refresh rejected: %v", shared.ErrAuthFailure, err)
		}
	}
	return fmt.Errorf("%w: token refresh: %v", shared.ErrTransientIO, err)
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// UserProfile retrieves the current authenticated user's profile.
func (s *SpotifyService) UserProfile(ctx context.Context) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, "me", "/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RecentlyPlayed calls the recently-played endpoint. after is exclusive, in unix milliseconds; values <= 0 are omitted.
func (s *SpotifyService) RecentlyPlayed(ctx context.Context, after int64, limit int) (*SpotifyRecentlyPlayed, error) {
	limit = max(1, min(limit, maxRecentlyPlayed))

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if after > 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}

	var resp SpotifyRecentlyPlayed
	if err := s.doRequest(ctx, "recently-played", "/me/player/recently-played?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchPage implements [HistorySource].
//
// The cursor is the unix-millisecond played-at of the newest event of the
// previous page, so the same window and cursor always produce the same page.
func (s *SpotifyService) FetchPage(ctx context.Context, window models.Window, cursor string, pageSize int) (Page, error) {
	after := window.Start.UnixMilli() - 1
	if cursor != "" {
		ms, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return Page{}, fmt.Errorf("%w: bad cursor %q", shared.ErrInvalidArgument, cursor)
		}
		after = ms
	}

	resp, err := s.RecentlyPlayed(ctx, after, pageSize)
	if err != nil {
		return Page{}, err
	}

	events := make([]models.PlaybackEvent, 0, len(resp.Items))
	for _, item := range resp.Items {
		events = append(events, toPlaybackEvent(item))
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].PlayedAt.Before(events[j].PlayedAt)
	})

	page := Page{Events: events}

	var newest time.Time
	for _, e := range events {
		if e.PlayedAt.After(newest) {
			newest = e.PlayedAt
		}
	}
	if len(resp.Items) >= max(1, min(pageSize, maxRecentlyPlayed)) && !newest.IsZero() &&
		newest.UnixMilli() > after && !newest.After(window.End) {
		page.Next = strconv.FormatInt(newest.UnixMilli(), 10)
	}

	return page, nil
}

// toPlaybackEvent converts an API item. Unparseable timestamps leave PlayedAt zero.
func toPlaybackEvent(item SpotifyPlayHistory) models.PlaybackEvent {
	t := item.Track
	e := models.PlaybackEvent{
		TrackID:   strings.TrimSpace(t.ID),
		TrackName: t.Name,
		AlbumID:   t.Album.ID,
		AlbumName: t.Album.Name,
		TrackURL:  t.ExternalURLs.Spotify,
	}

	if played, err := time.Parse(time.RFC3339Nano, item.PlayedAt); err == nil {
		e.PlayedAt = played.UTC()
	}

	for _, a := range t.Artists {
		e.ArtistIDs = append(e.ArtistIDs, a.ID)
		e.ArtistNames = append(e.ArtistNames, a.Name)
	}

	if e.TrackURL == "" && e.TrackID != "" {
		e.TrackURL = spotifyTrackURL + e.TrackID
	}
	return e
}

// GetTrack implements [MetadataSource].
func (s *SpotifyService) GetTrack(ctx context.Context, id string) (models.Descriptor, error) {
	var track SpotifyTrack
	if err := s.doRequest(ctx, "tracks", "/tracks/"+url.PathEscape(id), &track); err != nil {
		return models.Descriptor{}, err
	}

	d := models.Descriptor{
		Kind:       models.KindTrack,
		ID:         track.ID,
		Name:       track.Name,
		URL:        track.ExternalURLs.Spotify,
		AlbumID:    track.Album.ID,
		DurationMS: track.DurationMS,
		ImageURL:   firstImage(track.Album.Images),
	}
	for _, a := range track.Artists {
		d.ArtistIDs = append(d.ArtistIDs, a.ID)
	}
	if d.URL == "" {
		d.URL = spotifyTrackURL + id
	}
	return d, nil
}

// GetArtist implements [MetadataSource].
func (s *SpotifyService) GetArtist(ctx context.Context, id string) (models.Descriptor, error) {
	var artist SpotifyArtist
	if err := s.doRequest(ctx, "artists", "/artists/"+url.PathEscape(id), &artist); err != nil {
		return models.Descriptor{}, err
	}

	return models.Descriptor{
		Kind:     models.KindArtist,
		ID:       artist.ID,
		Name:     artist.Name,
		URL:      artist.ExternalURLs.Spotify,
		ImageURL: firstImage(artist.Images),
		Genres:   artist.Genres,
	}, nil
}

// GetAlbum implements [MetadataSource].
func (s *SpotifyService) GetAlbum(ctx context.Context, id string) (models.Descriptor, error) {
	var album SpotifyAlbum
	if err := s.doRequest(ctx, "albums", "/albums/"+url.PathEscape(id), &album); err != nil {
		return models.Descriptor{}, err
	}

	return models.Descriptor{
		Kind:        models.KindAlbum,
		ID:          album.ID,
		Name:        album.Name,
		URL:         album.ExternalURLs.Spotify,
		ImageURL:    firstImage(album.Images),
		ReleaseDate: album.ReleaseDate,
	}, nil
}

func firstImage(images []SpotifyImage) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}
