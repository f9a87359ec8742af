package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/spotlog/internal/models"
	"github.com/desertthunder/spotlog/internal/shared"
)

// newTestSpotify starts a server that issues tokens at /token and serves api under /v1.
func newTestSpotify(t *testing.T, api http.HandlerFunc) (*SpotifyService, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token form: %v", err)
		}
		if r.Form.Get("refresh_token") == "revoked" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"access-1","token_type":"Bearer","expires_in":3600,"refresh_token":"rotated"}`)
	})
	mux.HandleFunc("/v1/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("unexpected authorization header %q", got)
		}
		api(w, r)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := NewSpotifyService(SpotifyOptions{
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "refresh",
		TokenURL:     server.URL + "/token",
		BaseURL:      server.URL + "/v1",
		HTTPClient:   server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return srv, server
}

func historyItem(id string, playedAt string) string {
	return fmt.Sprintf(`{"played_at":%q,"track":{"id":%q,"name":"Song %s","duration_ms":1000,
		"artists":[{"id":"a1","name":"Artist One"},{"id":"a2","name":"Artist Two"}],
		"album":{"id":"al1","name":"Album"},"external_urls":{"spotify":"https://open.spotify.com/track/%s"}}}`,
		playedAt, id, id, id)
}

func TestSpotifyService(t *testing.T) {
	t.Run("NewSpotifyService", func(t *testing.T) {
		t.Run("Missing Client Credentials", func(t *testing.T) {
			_, err := NewSpotifyService(SpotifyOptions{RefreshToken: "r"})
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
		})

		t.Run("Missing Refresh Token", func(t *testing.T) {
			_, err := NewSpotifyService(SpotifyOptions{ClientID: "c", ClientSecret: "s"})
			if !errors.Is(err, shared.ErrAuthFailure) {
				t.Errorf("expected ErrAuthFailure, got %v", err)
			}
		})

		t.Run("Name", func(t *testing.T) {
			srv, err := NewSpotifyService(SpotifyOptions{ClientID: "c", ClientSecret: "s", RefreshToken: "r"})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if srv.Name() != "Spotify" {
				t.Errorf("expected service name 'Spotify', got %s", srv.Name())
			}
			var _ Source = srv
		})
	})

	t.Run("FetchPage", func(t *testing.T) {
		start := time.Date(2025, 11, 12, 10, 0, 0, 0, time.UTC)
		window := models.Window{Start: start, End: start.Add(time.Hour)}

		t.Run("sorts oldest first and sets cursor on full page", func(t *testing.T) {
			var gotQuery string
			srv, _ := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.RawQuery
				fmt.Fprintf(w, `{"items":[%s,%s],"limit":2}`,
					historyItem("t2", "2025-11-12T10:42:00.500Z"),
					historyItem("t1", "2025-11-12T10:40:00Z"))
			})

			page, err := srv.FetchPage(context.Background(), window, "", 2)
			if err != nil {
				t.Fatalf("FetchPage() error = %v", err)
			}

			wantAfter := fmt.Sprintf("after=%d", start.UnixMilli()-1)
			if !strings.Contains(gotQuery, wantAfter) || !strings.Contains(gotQuery, "limit=2") {
				t.Errorf("unexpected query %q", gotQuery)
			}

			if len(page.Events) != 2 || page.Events[0].TrackID != "t1" || page.Events[1].TrackID != "t2" {
				t.Fatalf("unexpected events %+v", page.Events)
			}

			e := page.Events[1]
			if e.ArtistNames[1] != "Artist Two" || e.ArtistIDs[0] != "a1" || e.AlbumID != "al1" {
				t.Errorf("unexpected event fields %+v", e)
			}
			if e.Key() != "2025-11-12T10:42:00.500Z|t2" {
				t.Errorf("unexpected key %s", e.Key())
			}

			want := fmt.Sprint(time.Date(2025, 11, 12, 10, 42, 0, 500_000_000, time.UTC).UnixMilli())
			if page.Next != want {
				t.Errorf("expected cursor %s, got %q", want, page.Next)
			}
		})

		t.Run("short page ends pagination", func(t *testing.T) {
			srv, _ := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
				if !strings.Contains(r.URL.RawQuery, "after=123") {
					t.Errorf("cursor not forwarded: %q", r.URL.RawQuery)
				}
				fmt.Fprintf(w, `{"items":[%s]}`, historyItem("t1", "2025-11-12T10:40:00Z"))
			})

			page, err := srv.FetchPage(context.Background(), window, "123", 50)
			if err != nil {
				t.Fatalf("FetchPage() error = %v", err)
			}
			if page.Next != "" {
				t.Errorf("expected no next cursor, got %q", page.Next)
			}
		})

		t.Run("malformed items pass through with zero fields", func(t *testing.T) {
			srv, _ := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"items":[%s]}`, historyItem("t1", "yesterday"))
			})

			page, err := srv.FetchPage(context.Background(), window, "", 50)
			if err != nil {
				t.Fatalf("FetchPage() error = %v", err)
			}
			if len(page.Events) != 1 || !page.Events[0].PlayedAt.IsZero() {
				t.Errorf("expected one event with zero played at, got %+v", page.Events)
			}
		})

		t.Run("bad cursor", func(t *testing.T) {
			srv, _ := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {})
			if _, err := srv.FetchPage(context.Background(), window, "abc", 50); !errors.Is(err, shared.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	})

	t.Run("Error Mapping", func(t *testing.T) {
		tc := []struct {
			name   string
			status int
			header map[string]string
			want   error
		}{
			{name: "unauthorized", status: http.StatusUnauthorized, want: shared.ErrAuthFailure},
			{name: "forbidden", status: http.StatusForbidden, want: shared.ErrAuthFailure},
			{name: "not found", status: http.StatusNotFound, want: shared.ErrNotFound},
			{name: "rate limited", status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "7"}, want: shared.ErrRateLimited},
			{name: "server error", status: http.StatusBadGateway, want: shared.ErrTransientIO},
			{name: "bad request", status: http.StatusBadRequest, want: shared.ErrAPIRequest},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				srv, _ := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
					for k, v := range tt.header {
						w.Header().Set(k, v)
					}
					w.WriteHeader(tt.status)
				})

				_, err := srv.GetTrack(context.Background(), "t1")
				if !errors.Is(err, tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, err)
				}

				if tt.status == http.StatusTooManyRequests {
					if d, ok := shared.RetryAfterHint(err); !ok || d != 7*time.Second {
						t.Errorf("expected 7s retry-after, got %v %v", d, ok)
					}
				}
			})
		}

		t.Run("undecodable body is transient", func(t *testing.T) {
			srv, _ := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"id":`)
			})
			if _, err := srv.GetArtist(context.Background(), "a1"); !errors.Is(err, shared.ErrTransientIO) {
				t.Errorf("expected ErrTransientIO, got %v", err)
			}
		})

		t.Run("revoked refresh token is auth failure", func(t *testing.T) {
			_, server := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {})
			srv, err := NewSpotifyService(SpotifyOptions{
				ClientID:     "client",
				ClientSecret: "secret",
				RefreshToken: "revoked",
				TokenURL:     server.URL + "/token",
				BaseURL:      server.URL + "/v1",
				HTTPClient:   server.Client(),
			})
			if err != nil {
				t.Fatalf("failed to create service: %v", err)
			}

			if _, err := srv.GetAlbum(context.Background(), "al1"); !errors.Is(err, shared.ErrAuthFailure) {
				t.Errorf("expected ErrAuthFailure, got %v", err)
			}
		})

		t.Run("unreachable server is transient", func(t *testing.T) {
			srv, server := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {})
			if _, err := srv.tokens.Token(); err != nil {
				t.Fatalf("failed to prefetch token: %v", err)
			}
			server.Close()

			if _, err := srv.GetTrack(context.Background(), "t1"); !errors.Is(err, shared.ErrTransientIO) {
				t.Errorf("expected ErrTransientIO, got %v", err)
			}
		})
	})

	t.Run("Metadata", func(t *testing.T) {
		srv, _ := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/v1/tracks/t1":
				fmt.Fprint(w, `{"id":"t1","name":"Song","duration_ms":1234,"artists":[{"id":"a1","name":"A"}],
					"album":{"id":"al1","name":"Album","images":[{"url":"https://img/1"}]}}`)
			case "/v1/artists/a1":
				fmt.Fprint(w, `{"id":"a1","name":"A","genres":["indie","rock"],"images":[{"url":"https://img/a"}]}`)
			case "/v1/albums/al1":
				fmt.Fprint(w, `{"id":"al1","name":"Album","release_date":"2020-01-01"}`)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		})
		ctx := context.Background()

		track, err := srv.GetTrack(ctx, "t1")
		if err != nil {
			t.Fatalf("GetTrack() error = %v", err)
		}
		if track.Kind != models.KindTrack || track.AlbumID != "al1" || track.ArtistIDs[0] != "a1" || track.DurationMS != 1234 {
			t.Errorf("unexpected track %+v", track)
		}
		if track.URL != "https://open.spotify.com/track/t1" || track.ImageURL != "https://img/1" {
			t.Errorf("unexpected track urls %+v", track)
		}

		artist, err := Lookup(ctx, srv, models.KindArtist, "a1")
		if err != nil {
			t.Fatalf("Lookup(artist) error = %v", err)
		}
		if len(artist.Genres) != 2 || artist.ImageURL != "https://img/a" {
			t.Errorf("unexpected artist %+v", artist)
		}

		album, err := Lookup(ctx, srv, models.KindAlbum, "al1")
		if err != nil {
			t.Fatalf("Lookup(album) error = %v", err)
		}
		if album.ReleaseDate != "2020-01-01" {
			t.Errorf("unexpected album %+v", album)
		}

		if _, err := Lookup(ctx, srv, "genre", "x"); err == nil {
			t.Error("expected error for unknown kind")
		}
	})

	t.Run("SetTokenRefreshCallback", func(t *testing.T) {
		srv, _ := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"id":"user-1","display_name":"Alice"}`)
		})

		var refreshed atomic.Value
		srv.SetTokenRefreshCallback(func(token *oauth2.Token) {
			refreshed.Store(token.RefreshToken)
		})

		user, err := srv.UserProfile(context.Background())
		if err != nil {
			t.Fatalf("UserProfile() error = %v", err)
		}
		if user.ID != "user-1" {
			t.Errorf("unexpected profile %+v", user)
		}
		if got, _ := refreshed.Load().(string); got != "rotated" {
			t.Errorf("expected rotated refresh token, got %q", got)
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tc := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "3", 3 * time.Second},
		{"fractional", "1.5", 1500 * time.Millisecond},
		{"http date", now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %s, want %s", tt.value, got, tt.want)
			}
		})
	}
}
