package recipient

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

func TestNewSet(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		s, err := NewSet([]string{"name", " email "}, [][]string{{"Ada", " ada@example.com"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"name", "email"}, s.Columns())
		assert.Equal(t, 1, s.Len())
		assert.True(t, s.HasColumn("email"))

		rec, err := s.Row(0)
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", rec.Value("email"))
	})

	t.Run("rejects wrong width", func(t *testing.T) {
		t.Parallel()
		_, err := NewSet([]string{"name", "email"}, [][]string{{"Ada"}})
		require.Error(t, err)
		assert.True(t, domain.IsValidationError(err))
	})

	t.Run("rejects duplicate columns", func(t *testing.T) {
		t.Parallel()
		_, err := NewSet([]string{"email", "email"}, nil)
		assert.True(t, domain.IsValidationError(err))
	})

	t.Run("rejects blank column", func(t *testing.T) {
		t.Parallel()
		_, err := NewSet([]string{"email", " "}, nil)
		assert.True(t, domain.IsValidationError(err))
	})

	t.Run("rejects no columns", func(t *testing.T) {
		t.Parallel()
		_, err := NewSet(nil, nil)
		assert.True(t, domain.IsValidationError(err))
	})
}

func TestSet_RowEditing(t *testing.T) {
	t.Parallel()

	s, err := NewSet([]string{"name", "email"}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Add(map[string]string{"name": "Ada", "email": "ada@example.com"}))
	require.NoError(t, s.Add(map[string]string{"email": "bob@example.com"}))
	assert.Equal(t, 2, s.Len())

	rec, _ := s.Row(1)
	assert.Equal(t, "", rec.Value("name"))

	err = s.Add(map[string]string{"name": " ", "email": ""})
	assert.True(t, domain.IsValidationError(err), "blank row")

	err = s.Add(map[string]string{"phone": "123"})
	assert.True(t, domain.IsValidationError(err), "unknown column")

	require.NoError(t, s.Update(1, map[string]string{"name": "Bob", "email": "bob@example.com"}))
	rec, _ = s.Row(1)
	assert.Equal(t, "Bob", rec.Value("name"))

	assert.ErrorIs(t, s.Update(5, map[string]string{"name": "x"}), domain.ErrRowOutOfRange)

	require.NoError(t, s.Delete(0))
	assert.Equal(t, 1, s.Len())
	rec, _ = s.Row(0)
	assert.Equal(t, "Bob", rec.Value("name"))

	assert.ErrorIs(t, s.Delete(-1), domain.ErrRowOutOfRange)
	_, err = s.Row(3)
	assert.ErrorIs(t, err, domain.ErrRowOutOfRange)
}

func TestSet_RecordsAreDetached(t *testing.T) {
	t.Parallel()

	s, err := NewSet([]string{"name"}, [][]string{{"Ada"}})
	require.NoError(t, err)

	recs := s.Records()
	require.NoError(t, s.Update(0, map[string]string{"name": "Grace"}))
	assert.Equal(t, "Ada", recs[0].Value("name"))
}

func TestSet_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := NewSet([]string{"first name", "email"}, [][]string{{"Ada", "ada@example.com"}})
	require.NoError(t, err)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"columns":["first name","email"],"rows":[["Ada","ada@example.com"]]}`, string(data))

	var back Set
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s.Columns(), back.Columns())
	assert.Equal(t, s.Records(), back.Records())

	err = json.Unmarshal([]byte(`{"columns":["a"],"rows":[["1","2"]]}`), &back)
	assert.True(t, domain.IsValidationError(err))
}

func TestRecord(t *testing.T) {
	t.Parallel()

	r := NewRecord([]string{"name", "city"}, []string{"Ada"})
	assert.Equal(t, []Field{{"name", "Ada"}, {"city", ""}}, r.Fields())
	assert.Equal(t, map[string]string{"name": "Ada", "city": ""}, r.Vars())

	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestDetectEmailColumn(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Email Address", DetectEmailColumn([]string{"name", "Email Address"}))
	assert.Equal(t, "college_mail", DetectEmailColumn([]string{"college_mail", "email"}))
	assert.Equal(t, "", DetectEmailColumn([]string{"name", "phone"}))
}

func TestParseCSV(t *testing.T) {
	t.Parallel()

	input := "\ufeffname, email ,company\n" +
		"Ada,ada@example.com,Analytical\n" +
		"\n" +
		",,\n" +
		"Bob,bob@example.com\n" +
		"\"Lovelace, Ada\",lovelace@example.com,\"Engines\"\n"

	res, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "email", "company"}, res.Set.Columns())
	assert.Equal(t, "email", res.EmailColumn)
	assert.Equal(t, 2, res.Set.Len())
	assert.Equal(t, []int{5}, res.Rejected)

	rec, _ := res.Set.Row(1)
	assert.Equal(t, "Lovelace, Ada", rec.Value("name"))
}

func TestParseCSV_Empty(t *testing.T) {
	t.Parallel()

	_, err := ParseCSV(strings.NewReader(""))
	assert.True(t, domain.IsValidationError(err))
}

func TestSet_WriteCSV(t *testing.T) {
	t.Parallel()

	s, err := NewSet([]string{"name", "email"}, [][]string{{"Ada, L", "ada@example.com"}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.WriteCSV(&buf))
	assert.Equal(t, "name,email\n\"Ada, L\",ada@example.com\n", buf.String())
}
