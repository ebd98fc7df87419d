package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithQuery(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec)
}

func TestFromContextDefaults(t *testing.T) {
	p := FromContext(contextWithQuery(""))
	if p.Limit != DefaultLimit {
		t.Errorf("Limit = %d, want %d", p.Limit, DefaultLimit)
	}
	if p.Offset != 0 {
		t.Errorf("Offset = %d, want 0", p.Offset)
	}
}

func TestFromContextExplicit(t *testing.T) {
	p := FromContext(contextWithQuery("limit=50&offset=30"))
	if p.Limit != 50 || p.Offset != 30 {
		t.Errorf("Params = %+v, want {50 30}", p)
	}
}

func TestFromContextClampsLimit(t *testing.T) {
	p := FromContext(contextWithQuery("limit=9999"))
	if p.Limit != MaxLimit {
		t.Errorf("Limit = %d, want %d", p.Limit, MaxLimit)
	}
}

func TestFromContextNegativeOffset(t *testing.T) {
	p := FromContext(contextWithQuery("offset=-5"))
	if p.Offset != 0 {
		t.Errorf("Offset = %d, want 0", p.Offset)
	}
}

func TestSQLClause(t *testing.T) {
	p := Params{Limit: 20, Offset: 40}
	if got := p.SQL(); got != "LIMIT 20 OFFSET 40" {
		t.Errorf("SQL() = %q", got)
	}
}

func TestNavigation(t *testing.T) {
	p := Params{Limit: 20, Offset: 20}

	if !p.HasNext(100) {
		t.Error("HasNext(100) should be true")
	}
	if p.HasNext(30) {
		t.Error("HasNext(30) should be false")
	}
	if !p.HasPrevious() {
		t.Error("HasPrevious should be true")
	}
	if p.NextOffset() != 40 {
		t.Errorf("NextOffset = %d, want 40", p.NextOffset())
	}
	if p.PreviousOffset() != 0 {
		t.Errorf("PreviousOffset = %d, want 0", p.PreviousOffset())
	}

	first := Params{Limit: 20, Offset: 10}
	if first.PreviousOffset() != 0 {
		t.Errorf("PreviousOffset = %d, want 0", first.PreviousOffset())
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2, 3}, 10, 3, 0)
	if !r.HasMore {
		t.Error("HasMore should be true")
	}
	last := NewResponse([]int{1}, 10, 3, 9)
	if last.HasMore {
		t.Error("HasMore should be false on last page")
	}
}
