package persona

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/forno/backend/internal/model/persona"
)

func setupRouter(activeID string) *chi.Mux {
	r := chi.NewRouter()
	New(persona.NewMemoryStore(persona.Seed()), activeID).RegisterRoutes(r)
	return r
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
	return resp
}

func TestListPersonas(t *testing.T) {
	resp := get(setupRouter(""), "/personas")
	require.Equal(t, http.StatusOK, resp.Code)

	var personas []persona.Persona
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&personas))
	require.NotEmpty(t, personas)
	assert.Equal(t, persona.DefaultID, personas[0].ID)
	assert.NotEmpty(t, personas[0].Menu)
}

func TestActivePersonaFallsBackToDefault(t *testing.T) {
	resp := get(setupRouter(""), "/personas/active")
	require.Equal(t, http.StatusOK, resp.Code)

	var p persona.Persona
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, persona.DefaultID, p.ID)

	assert.Equal(t, http.StatusNotFound, get(setupRouter("sushi"), "/personas/active").Code)
}

func TestGetPersona(t *testing.T) {
	r := setupRouter("")
	assert.Equal(t, http.StatusOK, get(r, "/personas/"+persona.DefaultID).Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/personas/unknown").Code)
}
