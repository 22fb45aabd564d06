package events

const (
	TopicClubMessage        = "feed.club.message"
	TopicDirectMessage      = "feed.direct.message"
	TopicFeedStatus         = "feed.status"
	TopicUnreadChanged      = "unread.changed"
	TopicConversationOpened = "conversation.opened"
	TopicConversationClosed = "conversation.closed"
	TopicMessageReconciled  = "message.reconciled"
	TopicReadError          = "read.error"
	TopicSendFailed         = "send.failed"
)
