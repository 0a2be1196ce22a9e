package fakestore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/andresuchdata/catalog-export/internal/domain"
)

const catalogJSON = `[
  {"id":1,"title":"Fjallraven - Foldsack No. 1 Backpack","price":109.95,"category":"men's clothing",
   "rating":{"rate":3.9,"count":120}},
  {"id":2,"title":"Mens Casual Premium Slim Fit T-Shirts ","price":22.3,"category":"men's clothing",
   "rating":{"rate":4.1,"count":259}},
  {"id":3,"title":"Mens Cotton Jacket","price":55.99,"category":"men's clothing","image":"https://fakestoreapi.com/img/3.jpg"}
]`

// newCatalogServer serves body on GET /products with the given status.
func newCatalogServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/products", func(w http.ResponseWriter, req *http.Request) {
		if got := req.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}).Methods(http.MethodGet)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchProducts(t *testing.T) {
	srv := newCatalogServer(t, http.StatusOK, catalogJSON)
	client := NewClient(Config{URL: srv.URL + "/products", Timeout: 5 * time.Second, UserAgent: "test"})

	table, err := client.FetchProducts(context.Background())
	if err != nil {
		t.Fatalf("FetchProducts: %v", err)
	}

	if table.Len() != 3 {
		t.Fatalf("rows = %d, want 3", table.Len())
	}
	wantCols := []string{"id", "title", "price", "category", "rating", "image"}
	if strings.Join(table.Columns, ",") != strings.Join(wantCols, ",") {
		t.Errorf("columns = %v, want %v", table.Columns, wantCols)
	}
	for i, wantID := range []string{"1", "2", "3"} {
		if got := table.Records[i].Text("id"); got != wantID {
			t.Errorf("row %d id = %q, want %q", i, got, wantID)
		}
	}
	if got := table.Records[1].Text("price"); got != "22.3" {
		t.Errorf("price = %q", got)
	}
	if got := table.Records[0].Text("rating"); got != `{"rate":3.9,"count":120}` {
		t.Errorf("rating = %q", got)
	}
	if got := table.Records[0].Text("image"); got != "" {
		t.Errorf("missing image = %q", got)
	}
}

func TestFetchProductsSingleRecord(t *testing.T) {
	srv := newCatalogServer(t, http.StatusOK, `[{"id":1,"title":"Shirt","price":9.99}]`)
	table, err := NewClient(Config{URL: srv.URL + "/products"}).FetchProducts(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if table.Len() != 1 || strings.Join(table.Columns, ",") != "id,title,price" {
		t.Fatalf("table = %+v", table)
	}
	if got := strings.Join(table.Row(0), ","); got != "1,Shirt,9.99" {
		t.Errorf("row = %q", got)
	}
}

func TestFetchProductsEmptyArray(t *testing.T) {
	srv := newCatalogServer(t, http.StatusOK, `[]`)
	table, err := NewClient(Config{URL: srv.URL + "/products"}).FetchProducts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if table.Len() != 0 || len(table.Columns) != 0 {
		t.Errorf("table = %+v", table)
	}
}

func TestFetchProductsErrors(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantKind domain.ErrorKind
	}{
		{"server error", http.StatusServiceUnavailable, `{"message":"down"}`, domain.KindNetwork},
		{"not found", http.StatusNotFound, ``, domain.KindNetwork},
		{"object instead of array", http.StatusOK, `{"id":1}`, domain.KindSerialization},
		{"array of scalars", http.StatusOK, `[1,2,3]`, domain.KindSerialization},
		{"truncated", http.StatusOK, `[{"id":1,"title":"Sh`, domain.KindSerialization},
		{"empty body", http.StatusOK, ``, domain.KindSerialization},
		{"trailing garbage", http.StatusOK, `[{"id":1}] extra`, domain.KindSerialization},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newCatalogServer(t, tc.status, tc.body)
			_, err := NewClient(Config{URL: srv.URL + "/products"}).FetchProducts(context.Background())
			if got := domain.KindOf(err); got != tc.wantKind {
				t.Fatalf("kind = %q (%v), want %q", got, err, tc.wantKind)
			}
		})
	}
}

func TestFetchProductsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/products"
	srv.Close()

	_, err := NewClient(Config{URL: url, Timeout: time.Second}).FetchProducts(context.Background())
	if domain.KindOf(err) != domain.KindNetwork {
		t.Fatalf("err = %v, want network kind", err)
	}
}

func TestFetchProductsConnectionDroppedMidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()
		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 200\r\n\r\n")
		buf.WriteString(`[{"id":1,"title":"Sh`)
		buf.Flush()
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(Config{URL: srv.URL, Timeout: 5 * time.Second}).FetchProducts(context.Background())
	if got := domain.KindOf(err); got != domain.KindNetwork {
		t.Fatalf("kind = %q (%v), want network", got, err)
	}
}

func TestFetchProductsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	_, err := NewClient(Config{URL: srv.URL, Timeout: 50 * time.Millisecond}).FetchProducts(context.Background())
	if domain.KindOf(err) != domain.KindNetwork {
		t.Fatalf("err = %v, want network kind", err)
	}
}

func TestFetchProductsWithHTTPClient(t *testing.T) {
	srv := newCatalogServer(t, http.StatusOK, `[{"id":7}]`)
	client := NewClient(Config{URL: srv.URL + "/products"}, WithHTTPClient(srv.Client()))

	table, err := client.FetchProducts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if table.Records[0].Text("id") != "7" {
		t.Errorf("id = %q", table.Records[0].Text("id"))
	}
}
