package openapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/richinex/agentdock/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weatherDoc = `{
  "openapi": "3.0.0",
  "paths": {
    "/weather": {
      "get": {
        "operationId": "getWeather",
        "summary": "Current weather",
        "parameters": [
          {"name": "q", "in": "query", "required": true, "schema": {"type": "string"}, "description": "City"},
          {"name": "units", "in": "query", "schema": {"type": "string"}},
          {"name": "X-Trace", "in": "header", "schema": {"type": "string"}}
        ]
      },
      "post": {
        "operationId": "setWeather"
      }
    }
  }
}`

func TestTranslateOnlyGET(t *testing.T) {
	descs, err := Translate([]byte(weatherDoc))
	require.NoError(t, err)
	require.Len(t, descs, 1)

	d := descs[0]
	assert.Equal(t, "getWeather", d.Name)
	assert.Equal(t, "Current weather", d.Description)
	assert.Equal(t, tools.HTTPBinding{Path: "/weather"}, d.Binding)

	require.Contains(t, d.Parameters.Properties, "q")
	assert.Equal(t, tools.KindString, d.Parameters.Properties["q"].Kind)
	assert.Equal(t, "City", d.Parameters.Properties["q"].Description)
	assert.True(t, d.Parameters.IsRequired("q"))
	assert.False(t, d.Parameters.IsRequired("units"))
	assert.NotContains(t, d.Parameters.Properties, "X-Trace")
}

func TestTranslateBodyOverridesParams(t *testing.T) {
	doc := `{
	  "paths": {
	    "/search": {
	      "get": {
	        "parameters": [{"name": "q", "in": "query", "schema": {"type": "string"}}],
	        "requestBody": {
	          "content": {
	            "application/json": {
	              "schema": {
	                "type": "object",
	                "properties": {
	                  "q": {"type": "integer"},
	                  "tags": {"type": "array", "items": {"type": "string"}}
	                },
	                "required": ["q"]
	              }
	            }
	          }
	        }
	      }
	    }
	  }
	}`
	descs, err := Translate([]byte(doc))
	require.NoError(t, err)
	require.Len(t, descs, 1)

	params := descs[0].Parameters
	assert.Equal(t, tools.KindInteger, params.Properties["q"].Kind)
	assert.True(t, params.IsRequired("q"))
	require.Contains(t, params.Properties, "tags")
	assert.Equal(t, tools.KindArray, params.Properties["tags"].Kind)
	assert.Equal(t, tools.KindString, params.Properties["tags"].Items.Kind)
}

func TestTranslateFallbackNameAndDescription(t *testing.T) {
	doc := `{"paths": {"/v1/users/list": {"get": {"description": "All users"}}, "/ping": {"get": {}}}}`
	descs, err := Translate([]byte(doc))
	require.NoError(t, err)
	require.Len(t, descs, 2)

	// paths are visited in sorted order
	assert.Equal(t, "get__ping", descs[0].Name)
	assert.Equal(t, "GET /ping", descs[0].Description)
	assert.Equal(t, "get__v1_users_list", descs[1].Name)
	assert.Equal(t, "All users", descs[1].Description)
	assert.Empty(t, descs[1].Parameters.Properties)
}

func TestTranslateSanitizesNames(t *testing.T) {
	doc := `{"paths": {"/pets/{id}": {"get": {"parameters": [{"name": "id", "in": "path", "required": true}]}}}}`
	descs, err := Translate([]byte(doc))
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "get__pets__id_", descs[0].Name)
	assert.Equal(t, tools.KindString, descs[0].Parameters.Properties["id"].Kind)
	assert.True(t, descs[0].Parameters.IsRequired("id"))
}

func TestTranslateKeepsDeclaredOperationID(t *testing.T) {
	long := strings.Repeat("x", 70)
	doc := `{"paths": {
	  "/a": {"get": {"operationId": "weather.get"}},
	  "/b": {"get": {"operationId": "weather-get"}},
	  "/c": {"get": {"operationId": "` + long + `"}}
	}}`
	descs, err := Translate([]byte(doc))
	require.NoError(t, err)
	require.Len(t, descs, 3)

	assert.Equal(t, "weather.get", descs[0].Name)
	assert.Equal(t, "weather-get", descs[1].Name)
	assert.Equal(t, long, descs[2].Name)
}

func TestTranslateResolvesRefs(t *testing.T) {
	doc := `{
	  "paths": {
	    "/items": {
	      "parameters": [{"$ref": "#/components/parameters/Limit"}],
	      "get": {
	        "operationId": "listItems",
	        "requestBody": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/Filter"}}}}
	      }
	    }
	  },
	  "components": {
	    "parameters": {"Limit": {"name": "limit", "in": "query", "schema": {"type": "integer"}}},
	    "schemas": {
	      "Filter": {"type": "object", "properties": {"owner": {"$ref": "#/components/schemas/Owner"}}},
	      "Owner": {"type": "string", "description": "Owner login"}
	    }
	  }
	}`
	descs, err := Translate([]byte(doc))
	require.NoError(t, err)
	require.Len(t, descs, 1)

	params := descs[0].Parameters
	assert.Equal(t, tools.KindInteger, params.Properties["limit"].Kind)
	require.Contains(t, params.Properties, "owner")
	assert.Equal(t, "Owner login", params.Properties["owner"].Description)
}

func TestTranslateMissingPaths(t *testing.T) {
	_, err := Translate([]byte(`{"openapi": "3.0.0"}`))
	assert.ErrorIs(t, err, ErrMissingPaths)

	_, err = Translate([]byte(`[1, 2]`))
	assert.ErrorIs(t, err, ErrInvalidDocument)
	assert.ErrorIs(t, err, ErrMissingPaths)
}

func TestTranslateYAML(t *testing.T) {
	doc := `
openapi: 3.0.0
paths:
  /forecast:
    get:
      operationId: forecast
      summary: Forecast
      parameters:
        - name: days
          in: query
          required: true
          schema:
            type: integer
`
	descs, err := Translate([]byte(doc))
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "forecast", descs[0].Name)
	assert.Equal(t, tools.KindInteger, descs[0].Parameters.Properties["days"].Kind)
	assert.True(t, descs[0].Parameters.IsRequired("days"))
}

func TestTranslateUnknownTypeDegradesToString(t *testing.T) {
	doc := `{"paths": {"/x": {"get": {"parameters": [{"name": "when", "in": "query", "schema": {"type": "date"}}]}}}}`
	descs, err := Translate([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, tools.KindString, descs[0].Parameters.Properties["when"].Kind)
}

func TestLoadAndBind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openapi.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(weatherDoc))
	}))
	defer server.Close()

	descs, err := Load(context.Background(), server.Client(), server.URL+"/openapi.json")
	require.NoError(t, err)

	bound := Bind(descs, "https://weather.test")
	require.Len(t, bound, 1)
	assert.Equal(t, tools.HTTPBinding{BaseURL: "https://weather.test", Path: "/weather"}, bound[0].Binding)
	// the input slice is left untouched
	assert.Equal(t, "", descs[0].Binding.(tools.HTTPBinding).BaseURL)

	_, err = Load(context.Background(), server.Client(), server.URL+"/missing")
	assert.Error(t, err)
}
