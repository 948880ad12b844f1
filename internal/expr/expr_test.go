package expr

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/schema"
	"github.com/muninn-archive/muninn/internal/value"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(schema.MustNamespace("obs", []schema.Field{
		{Name: "station", Type: value.Text},
		{Name: "level", Type: value.Integer, Optional: true},
	})))
	return reg
}

func filter(t *testing.T, input string, params map[string]any) Node {
	t.Helper()
	reg := testRegistry(t)
	root, err := Parse(input)
	require.NoError(t, err, input)
	root, err = AnalyzeFilter(reg, root, params)
	require.NoError(t, err, input)
	return root
}

func mustEval(t *testing.T, input string, env *Env) bool {
	t.Helper()
	ok, err := Eval(filter(t, input, nil), env)
	require.NoError(t, err, input)
	return ok
}

func TestParse_Errors(t *testing.T) {
	for _, input := range []string{
		"",
		"(product_name == \"a\"",
		"product_name ==",
		"1 < 2 < 3",
		"a.b.c == 1",
		"product_name @ 1",
	} {
		_, err := Parse(input)
		if err == nil {
			_, err = AnalyzeFilter(testRegistry(t), mustParse(t, input), nil)
		}
		require.Error(t, err, input)
		var xerr *errs.ExpressionError
		require.ErrorAs(t, err, &xerr, input)
	}
}

func mustParse(t *testing.T, input string) Node {
	t.Helper()
	root, err := Parse(input)
	require.NoError(t, err)
	return root
}

func TestAnalyze_Errors(t *testing.T) {
	reg := testRegistry(t)
	for _, input := range []string{
		"no_such_field == 1",
		"nope.station == \"x\"",
		"product_name == 1",
		"product_name + 1 == 2",
		"frobnicate(1)",
		"size + 1",
		"covers(validity_start, validity_stop)",
	} {
		root, err := Parse(input)
		require.NoError(t, err, input)
		_, err = AnalyzeFilter(reg, root, nil)
		require.Error(t, err, input)
	}
}

func TestAnalyze_MissingParameter(t *testing.T) {
	root := mustParse(t, "uuid == @id")
	_, err := AnalyzeFilter(testRegistry(t), root, nil)
	require.Error(t, err)
}

func TestAnalyze_TextLiteralCoercesToUUID(t *testing.T) {
	id := uuid.New()
	env := &Env{Get: func(ns, field string) (any, bool) {
		if ns == "core" && field == "uuid" {
			return id, true
		}
		return nil, false
	}}
	require.True(t, mustEval(t, "uuid == \""+id.String()+"\"", env))
}

func coreEnv(fields map[string]any) *Env {
	return &Env{Get: func(ns, field string) (any, bool) {
		if ns != "core" {
			return nil, false
		}
		v, ok := fields[field]
		return v, ok && v != nil
	}}
}

func TestEval_Comparisons(t *testing.T) {
	env := coreEnv(map[string]any{
		"size":         int64(100),
		"product_name": "S1A_IW_GRDH",
	})
	require.True(t, mustEval(t, "size == 100", env))
	require.True(t, mustEval(t, "size > 50 and size <= 100", env))
	require.False(t, mustEval(t, "size != 100", env))
	require.True(t, mustEval(t, "product_name ~= \"S1A%\"", env))
	require.False(t, mustEval(t, "product_name ~= \"S2_\"", env))
	require.True(t, mustEval(t, "size in [50, 100, 150]", env))
	require.False(t, mustEval(t, "size in [50, 150]", env))
}

func TestEval_NotIn(t *testing.T) {
	env := coreEnv(map[string]any{
		"size":         int64(100),
		"product_name": "a",
	})
	require.False(t, mustEval(t, "product_name not in [\"a\", \"b\"]", env))
	require.True(t, mustEval(t, "product_name not in [\"x\", \"y\"]", env))
	require.True(t, mustEval(t, "size not in [50, 150]", env))
	// An absent property stays filtered out, as in SQL.
	require.False(t, mustEval(t, "remote_url not in [\"x\"]", env))
}

func TestParse_NotInRequiresList(t *testing.T) {
	_, err := Parse("product_name not in 5")
	require.Error(t, err)
	_, err = Parse("product_name not 5")
	require.Error(t, err)
}

func TestAnalyze_InListTypeRestrictions(t *testing.T) {
	reg := testRegistry(t)
	for _, input := range []string{
		"active in [true]",
		"validity_start in [2024-01-01, 2024-02-01]",
		"uuid in [\"814672a0-45f9-4bd0-a0b2-3a4756cd69e1\"]",
		"size in [\"a\", \"b\"]",
	} {
		root, err := Parse(input)
		require.NoError(t, err, input)
		_, err = AnalyzeFilter(reg, root, nil)
		require.Error(t, err, input)
	}
}

func TestEval_Arithmetic(t *testing.T) {
	env := coreEnv(map[string]any{"size": int64(100)})
	require.True(t, mustEval(t, "size + 10 == 110", env))
	require.True(t, mustEval(t, "size / 3 == 33", env))
	require.True(t, mustEval(t, "-size == -100", env))
	require.True(t, mustEval(t, "size * 1.5 == 150.0", env))
}

func TestEval_NullSemantics(t *testing.T) {
	env := coreEnv(map[string]any{"product_name": "x"})
	// size is not set: name-vs-literal equality is false, inequality true.
	require.False(t, mustEval(t, "size == 100", env))
	require.True(t, mustEval(t, "size != 100", env))
	require.False(t, mustEval(t, "size > 100", env))
	require.True(t, mustEval(t, "size > 100 or product_name == \"x\"", env))
	require.False(t, mustEval(t, "size > 100 and product_name == \"x\"", env))
	// NULL propagates through not; the filter result is false, not true.
	require.False(t, mustEval(t, "not (size > 100)", env))
}

func TestEval_TimestampCovers(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	stop := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	env := coreEnv(map[string]any{
		"validity_start": start,
		"validity_stop":  stop,
	})
	require.True(t, mustEval(t,
		"covers(validity_start, validity_stop, 2024-03-01T06:00:00, 2024-03-01T18:00:00)", env))
	require.False(t, mustEval(t,
		"covers(validity_start, validity_stop, 2024-02-01, 2024-03-01T18:00:00)", env))
	require.True(t, mustEval(t,
		"intersects(validity_start, validity_stop, 2024-02-01, 2024-03-01T06:00:00)", env))
	require.False(t, mustEval(t,
		"intersects(validity_start, validity_stop, 2024-04-01, 2024-05-01)", env))
	require.False(t, mustEval(t,
		"covers(validity_start, validity_stop, 0000-00-00, 9999-99-99)", env))
}

func TestEval_Now(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env := coreEnv(map[string]any{"archive_date": ts.Add(-time.Hour)})
	env.Now = ts
	require.True(t, mustEval(t, "archive_date < now()", env))
}

func TestEval_IsDefined(t *testing.T) {
	env := coreEnv(map[string]any{"size": int64(1)})
	env.HasNamespace = func(ns string) bool { return ns == "obs" }
	require.True(t, mustEval(t, "is_defined(size)", env))
	require.False(t, mustEval(t, "is_defined(archive_path)", env))
	require.True(t, mustEval(t, "is_defined(obs)", env))
	require.True(t, mustEval(t, "not is_defined(core.remote_url)", env))
}

func TestEval_HasTag(t *testing.T) {
	env := coreEnv(nil)
	env.HasTag = func(tag string) bool { return tag == "calibrated" }
	require.True(t, mustEval(t, "has_tag(\"calibrated\")", env))
	require.False(t, mustEval(t, "has_tag(\"raw\")", env))
}

func TestEval_BareUUIDLiteral(t *testing.T) {
	id := uuid.MustParse("814672a0-45f9-4bd0-a0b2-3a4756cd69e1")
	env := &Env{Get: func(ns, field string) (any, bool) {
		if ns == "core" && field == "uuid" {
			return id, true
		}
		return nil, false
	}}
	require.True(t, mustEval(t, "uuid == 814672a0-45f9-4bd0-a0b2-3a4756cd69e1", env))
	require.False(t, mustEval(t, "uuid == 00000000-0000-0000-0000-000000000001", env))
}

func TestEval_TextEscapes(t *testing.T) {
	env := coreEnv(map[string]any{"product_name": "a\r\n\tb\"c\\"})
	require.True(t, mustEval(t, "product_name == \"a\\r\\n\\tb\\\"c\\\\\"", env))
}

func TestEval_LinkProbes(t *testing.T) {
	src := uuid.New()
	env := coreEnv(nil)
	env.IsDerivedFrom = func(id uuid.UUID) bool { return id == src }
	require.True(t, mustEval(t, "is_derived_from(\""+src.String()+"\")", env))
	require.True(t, mustEval(t, "is_derived_from("+src.String()+")", env))
	require.False(t, mustEval(t, "is_derived_from(\""+uuid.NewString()+"\")", env))
}

func TestEval_GeometryDistance(t *testing.T) {
	env := coreEnv(nil)
	// One degree of latitude apart.
	require.True(t, mustEval(t,
		"distance(POINT (4.0 52.0), POINT (4.0 53.0)) > 0.99", env))
	require.True(t, mustEval(t,
		"distance(POINT (4.0 52.0), POINT (4.0 53.0)) < 1.01", env))
	require.True(t, mustEval(t,
		"distance(POINT (4.0 52.0), POINT (4.0 52.0)) < 0.000001", env))
}

func TestEval_GeometryIntersects(t *testing.T) {
	env := coreEnv(nil)
	require.True(t, mustEval(t,
		"intersects(POLYGON ((0 0, 2 0, 2 2, 0 2, 0 0)), POLYGON ((1 1, 3 1, 3 3, 1 3, 1 1)))", env))
	require.False(t, mustEval(t,
		"intersects(POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0)), POLYGON ((5 5, 6 5, 6 6, 5 6, 5 5)))", env))
}
