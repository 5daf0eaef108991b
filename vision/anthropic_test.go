package vision_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fichflow/fichflow/product"
	"github.com/fichflow/fichflow/vision"
)

// =============================================================================
// PARSE SHEET
// =============================================================================

func TestParseSheet_PlainJSON(t *testing.T) {
	sheet, err := vision.ParseSheet(`{
		"title": "Bougie artisanale",
		"description": "Coulée à la main.",
		"characteristics": {"Matière": "Cire de soja"},
		"attributes": {"couleur": "ivoire"}
	}`)
	require.NoError(t, err)
	assert.Equal(t, "Bougie artisanale", sheet.Title)
	assert.Equal(t, "Cire de soja", sheet.Characteristics["Matière"])
}

func TestParseSheet_StripsMarkdownFences(t *testing.T) {
	// Models wrap JSON in fences no matter how firmly the prompt says
	// not to.
	sheet, err := vision.ParseSheet("```json\n{\"title\": \"T\", \"description\": \"D\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "T", sheet.Title)
	assert.Equal(t, "D", sheet.Description)
}

func TestParseSheet_RejectsIncompleteSheet(t *testing.T) {
	_, err := vision.ParseSheet(`{"title": "", "description": "D"}`)
	assert.Error(t, err)

	_, err = vision.ParseSheet(`not json at all`)
	assert.Error(t, err)
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

func TestGenerateSheet_SendsPhotosAndParsesReply(t *testing.T) {
	var gotAuth, gotVersion string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-Api-Key")
		gotVersion = r.Header.Get("Anthropic-Version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": `{"title": "Bougie", "description": "Une bougie."}`},
			},
		})
	}))
	defer server.Close()

	client := vision.NewClient(vision.Config{
		APIKey:  "sk-test",
		Model:   "claude-haiku-4-5-20251001",
		BaseURL: server.URL,
	})

	sheet, err := client.GenerateSheet(context.Background(), product.SheetRequest{
		Name:     "Bougie",
		Category: "Maison",
		Tone:     product.ToneLuxe,
		Photos: []product.Photo{
			{MediaType: "image/jpeg", Data: []byte("raw")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bougie", sheet.Title)

	assert.Equal(t, "sk-test", gotAuth)
	assert.Equal(t, "2023-06-01", gotVersion)
	assert.Equal(t, "claude-haiku-4-5-20251001", gotBody["model"])

	// One image block plus one text block.
	messages := gotBody["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "image", content[0].(map[string]any)["type"])
	assert.Equal(t, "text", content[1].(map[string]any)["type"])
}

func TestGenerateSheet_SurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer server.Close()

	client := vision.NewClient(vision.Config{APIKey: "sk-test", BaseURL: server.URL})

	_, err := client.GenerateSheet(context.Background(), product.SheetRequest{Name: "X"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
}
