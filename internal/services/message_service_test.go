package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"eaglehurst/platform/internal/config"
	"eaglehurst/platform/internal/models"
	"eaglehurst/platform/internal/utils"
)

type messageFixture struct {
	*connectionFixture
	msgs IMessageService
	conn *models.Connection
}

// setupMessageTest builds an approved connection ready for messaging.
func setupMessageTest(t *testing.T) *messageFixture {
	db := utils.SetupTestDB(t, "eaglehurst_test_messages",
		usersCollection, listingsCollection, connectionsCollection, messagesCollection)

	users := NewUserService(db)
	listings := NewListingService(db)
	conns := NewConnectionService(db, listings, users)
	msgs := NewMessageService(db, conns, &config.Config{MaxMessageLength: 100})

	ctx := context.Background()
	buyer, err := users.Register(ctx, "Barbara Buyer", "buyer@example.com", "secret123", models.RoleBuyer)
	require.NoError(t, err)
	seller, err := users.Register(ctx, "Sam Seller", "seller@example.com", "secret123", models.RoleSeller)
	require.NoError(t, err)
	list, err := listings.CreateListing(ctx, seller.GetID(), &models.Listing{Title: "Harbour Dental"})
	require.NoError(t, err)

	conn, err := conns.RequestConnection(ctx, list.GetID(), buyer.GetID(), "hello")
	require.NoError(t, err)
	conn, err = conns.RespondToConnection(ctx, conn.GetID(), seller.GetID(), true, "hi")
	require.NoError(t, err)

	return &messageFixture{
		connectionFixture: &connectionFixture{db: db, users: users, listing: listings, conns: conns,
			buyer: buyer, seller: seller, list: list},
		msgs: msgs,
		conn: conn,
	}
}

func TestSendMessage_RequiresApprovedConnection(t *testing.T) {
	f := setupMessageTest(t)
	ctx := context.Background()

	// A second listing gives us a fresh pending connection.
	pendingList, err := f.listing.CreateListing(ctx, f.seller.GetID(), &models.Listing{Title: "Westside Optometry"})
	require.NoError(t, err)
	pending, err := f.conns.RequestConnection(ctx, pendingList.GetID(), f.buyer.GetID(), "hello")
	require.NoError(t, err)

	_, err = f.msgs.SendMessage(ctx, pending.GetID(), f.buyer.GetID(), "too early", models.MessageTypeText, "")
	assert.ErrorIs(t, err, ErrNotApproved)

	_, err = f.msgs.SendMessage(ctx, f.conn.GetID(), f.buyer.GetID(), "this one works", models.MessageTypeText, "")
	assert.NoError(t, err)
}

func TestSendMessage_BumpsCounterpartyUnread(t *testing.T) {
	f := setupMessageTest(t)
	ctx := context.Background()

	_, err := f.msgs.SendMessage(ctx, f.conn.GetID(), f.buyer.GetID(), "one", models.MessageTypeText, "")
	require.NoError(t, err)
	_, err = f.msgs.SendMessage(ctx, f.conn.GetID(), f.buyer.GetID(), "two", models.MessageTypeText, "")
	require.NoError(t, err)

	fresh, err := f.conns.FindByID(ctx, f.conn.GetID())
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.UnreadBySeller)
	assert.Equal(t, 0, fresh.UnreadByBuyer)
	assert.True(t, fresh.LastActivity.After(f.conn.LastActivity) || fresh.LastActivity.Equal(f.conn.LastActivity))
}

func TestSendMessage_OutsiderRejected(t *testing.T) {
	f := setupMessageTest(t)
	ctx := context.Background()

	outsider, err := f.users.Register(ctx, "Olive Outsider", "olive@example.com", "secret123", models.RoleBuyer)
	require.NoError(t, err)

	_, err = f.msgs.SendMessage(ctx, f.conn.GetID(), outsider.GetID(), "let me in", models.MessageTypeText, "")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestSendMessage_ContentValidation(t *testing.T) {
	f := setupMessageTest(t)
	ctx := context.Background()

	_, err := f.msgs.SendMessage(ctx, f.conn.GetID(), f.buyer.GetID(), "", models.MessageTypeText, "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}
	_, err = f.msgs.SendMessage(ctx, f.conn.GetID(), f.buyer.GetID(), string(long), models.MessageTypeText, "")
	assert.ErrorIs(t, err, ErrMessageTooLong)

	// File messages need a key but no content.
	_, err = f.msgs.SendMessage(ctx, f.conn.GetID(), f.buyer.GetID(), "", models.MessageTypeFile, "uploads/doc.pdf")
	assert.NoError(t, err)
	_, err = f.msgs.SendMessage(ctx, f.conn.GetID(), f.buyer.GetID(), "", models.MessageTypeFile, "")
	assert.Error(t, err)
}

func TestListMessages_AfterCursor(t *testing.T) {
	f := setupMessageTest(t)
	ctx := context.Background()

	first, err := f.msgs.SendMessage(ctx, f.conn.GetID(), f.buyer.GetID(), "one", models.MessageTypeText, "")
	require.NoError(t, err)
	_, err = f.msgs.SendMessage(ctx, f.conn.GetID(), f.seller.GetID(), "two", models.MessageTypeText, "")
	require.NoError(t, err)

	all, err := f.msgs.ListMessages(ctx, f.conn.GetID(), f.buyer.GetID(), primitive.NilObjectID, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "one", all[0].Content)

	// The poller passes the last seen ID and gets only the delta.
	newer, err := f.msgs.ListMessages(ctx, f.conn.GetID(), f.buyer.GetID(), first.GetID(), 0)
	require.NoError(t, err)
	require.Len(t, newer, 1)
	assert.Equal(t, "two", newer[0].Content)
}

func TestMarkRead_ResetsViewerCounter(t *testing.T) {
	f := setupMessageTest(t)
	ctx := context.Background()

	_, err := f.msgs.SendMessage(ctx, f.conn.GetID(), f.buyer.GetID(), "one", models.MessageTypeText, "")
	require.NoError(t, err)
	_, err = f.msgs.SendMessage(ctx, f.conn.GetID(), f.buyer.GetID(), "two", models.MessageTypeText, "")
	require.NoError(t, err)

	n, err := f.msgs.MarkRead(ctx, f.conn.GetID(), f.seller.GetID())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	fresh, err := f.conns.FindByID(ctx, f.conn.GetID())
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.UnreadBySeller)

	msgs, err := f.msgs.ListMessages(ctx, f.conn.GetID(), f.seller.GetID(), primitive.NilObjectID, 0)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.True(t, m.IsRead)
	}
}

func TestEditMessage_SenderOnly(t *testing.T) {
	f := setupMessageTest(t)
	ctx := context.Background()

	msg, err := f.msgs.SendMessage(ctx, f.conn.GetID(), f.buyer.GetID(), "orignal", models.MessageTypeText, "")
	require.NoError(t, err)

	_, err = f.msgs.EditMessage(ctx, msg.GetID(), f.seller.GetID(), "hijacked")
	assert.ErrorIs(t, err, ErrNotSender)

	edited, err := f.msgs.EditMessage(ctx, msg.GetID(), f.buyer.GetID(), "original")
	require.NoError(t, err)
	assert.Equal(t, "original", edited.Content)
	assert.True(t, edited.IsEdited)
	assert.NotNil(t, edited.EditedAt)
}

func TestDeleteMessage_SenderOnly(t *testing.T) {
	f := setupMessageTest(t)
	ctx := context.Background()

	msg, err := f.msgs.SendMessage(ctx, f.conn.GetID(), f.buyer.GetID(), "remove me", models.MessageTypeText, "")
	require.NoError(t, err)

	err = f.msgs.DeleteMessage(ctx, msg.GetID(), f.seller.GetID())
	assert.ErrorIs(t, err, ErrNotSender)

	require.NoError(t, f.msgs.DeleteMessage(ctx, msg.GetID(), f.buyer.GetID()))

	msgs, err := f.msgs.ListMessages(ctx, f.conn.GetID(), f.buyer.GetID(), primitive.NilObjectID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestTotalUnreadFor_ApprovedConnectionsOnly(t *testing.T) {
	f := setupMessageTest(t)
	ctx := context.Background()

	_, err := f.msgs.SendMessage(ctx, f.conn.GetID(), f.buyer.GetID(), "one", models.MessageTypeText, "")
	require.NoError(t, err)

	total, err := f.conns.TotalUnreadFor(ctx, f.seller.GetID())
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	total, err = f.conns.TotalUnreadFor(ctx, f.buyer.GetID())
	require.NoError(t, err)
	assert.Zero(t, total)
}
