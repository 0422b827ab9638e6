package mailbox

import (
	"testing"

	"github.com/phrazzld/mailindex/internal/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_IndexDocuments(t *testing.T) {
	t.Parallel()

	msg := &Message{
		ItemID:     42,
		MailboxID:  100,
		ItemType:   TypeMessage,
		Subject:    "quarterly report",
		Sender:     "alice@example.com",
		Recipients: []string{"bob@example.com", "carol@example.com"},
		Body:       "numbers attached",
		Attachments: []Attachment{
			{Name: "q3.txt", ContentType: "text/plain", Text: "revenue up"},
		},
	}

	t.Run("without attachments", func(t *testing.T) {
		t.Parallel()

		docs, err := msg.IndexDocuments(false)
		require.NoError(t, err)
		require.Len(t, docs, 1)

		assert.Equal(t, "42", docs[0].ID)
		assert.Equal(t, "quarterly report", docs[0].Fields["subject"])
		assert.Equal(t, "bob@example.com carol@example.com", docs[0].Fields["to"])
		assert.Equal(t, float64(42), docs[0].Fields[index.FieldItemID])
		assert.Equal(t, "message", docs[0].Fields[index.FieldItemType])
	})

	t.Run("with attachments", func(t *testing.T) {
		t.Parallel()

		docs, err := msg.IndexDocuments(true)
		require.NoError(t, err)
		require.Len(t, docs, 2)

		assert.Equal(t, "42_1", docs[1].ID)
		assert.Equal(t, "q3.txt", docs[1].Fields["filename"])
		assert.Equal(t, float64(1), docs[1].Fields[index.FieldPart])
	})

	t.Run("invalid item", func(t *testing.T) {
		t.Parallel()

		_, err := (&Message{}).IndexDocuments(false)
		assert.ErrorIs(t, err, ErrInvalidItem)
	})
}

func TestParseItemType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    ItemType
		wantErr bool
	}{
		{in: "message", want: TypeMessage},
		{in: " Contact ", want: TypeContact},
		{in: "appointment", want: TypeAppointment},
		{in: "folder", want: TypeUnknown, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseItemType(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want.String(), got.String())
		})
	}
}
