package contact

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/klipach/contactcast/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactFirestoreMapping(t *testing.T) {
	c := Contact{ID: "c1", Name: "Ana", PhoneNumber: "555", Email: "ana@example.com"}
	fc := contactToFirestore(c)
	assert.Equal(t, contract.FirestoreContact{Name: "Ana", PhoneNumber: "555", Email: "ana@example.com"}, fc)
	assert.Equal(t, c, contactFromFirestore("c1", fc))
}

// Runs against the Firestore emulator: FIRESTORE_EMULATOR_HOST=localhost:8080.
func TestFirestoreStoreEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := firestore.NewClient(ctx, "demo-contactcast")
	require.NoError(t, err)
	defer client.Close()

	store := NewFirestoreStore(client, 0)
	c := NewClient(store, DefaultLimit, BestEffort)
	b := &Book{}
	require.NoError(t, c.Load(ctx, b))
	for _, existing := range b.Contacts {
		require.NoError(t, c.Remove(ctx, b, existing.ID))
	}

	fillBook(t, c, b, "A", "B")
	report, err := c.Dispatch(ctx, b, "hi")
	require.NoError(t, err)
	assert.Len(t, report.Delivered, 2)

	docs, err := client.Collection(contract.FirestoreContactsCollection).Doc(b.Contacts[0].ID).
		Collection(contract.FirestoreMessagesCollection).Documents(ctx).GetAll()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	var m contract.FirestoreMessage
	require.NoError(t, docs[0].DataTo(&m))
	assert.Equal(t, report.DispatchID, m.DispatchID)

	require.NoError(t, c.Remove(ctx, b, b.Contacts[0].ID))
	require.NoError(t, store.DeleteContact(ctx, "already-gone"))
}
