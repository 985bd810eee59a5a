package domain

// ---------------------------------------------------------------------------
// Shared value objects used across bounded contexts
// ---------------------------------------------------------------------------

// IntentKind classifies what the user wants from a single utterance.
type IntentKind string

const (
	IntentCreateTask  IntentKind = "create_task"
	IntentAddExpense  IntentKind = "add_expense"
	IntentAddIncome   IntentKind = "add_income"
	IntentSaveNote    IntentKind = "save_note"
	IntentTrackMood   IntentKind = "track_mood"
	IntentGeneralChat IntentKind = "general_chat"
)

// AllIntentKinds returns all known intent kinds.
func AllIntentKinds() []IntentKind {
	return []IntentKind{
		IntentCreateTask, IntentAddExpense, IntentAddIncome,
		IntentSaveNote, IntentTrackMood, IntentGeneralChat,
	}
}

// String implements fmt.Stringer.
func (k IntentKind) String() string { return string(k) }

// Valid returns true if the intent kind is recognized.
func (k IntentKind) Valid() bool {
	for _, kk := range AllIntentKinds() {
		if kk == k {
			return true
		}
	}
	return false
}

// Extractable reports whether the kind produces a structured entity.
// general_chat never does; it routes straight to the conversational reply.
func (k IntentKind) Extractable() bool {
	return k.Valid() && k != IntentGeneralChat
}

// ---------------------------------------------------------------------------

// MessageRole represents who sent a turn in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

func (mr MessageRole) String() string { return string(mr) }

// ---------------------------------------------------------------------------

// ChannelKind distinguishes how an inbound update was produced.
type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
)

func (ck ChannelKind) String() string { return string(ck) }

// ---------------------------------------------------------------------------

// FinanceType distinguishes money in from money out.
type FinanceType string

const (
	FinanceIncome  FinanceType = "income"
	FinanceExpense FinanceType = "expense"
)

func (ft FinanceType) String() string { return string(ft) }

// Valid returns true if the finance type is recognized.
func (ft FinanceType) Valid() bool {
	return ft == FinanceIncome || ft == FinanceExpense
}

// ---------------------------------------------------------------------------

// DeliveryState is the lifecycle state of the inbound delivery channel.
// Exactly one instance exists process-wide.
type DeliveryState string

const (
	DeliveryDisabled       DeliveryState = "disabled"
	DeliveryPolling        DeliveryState = "polling"
	DeliveryWebhookPending DeliveryState = "webhook_pending"
	DeliveryWebhookActive  DeliveryState = "webhook_active"
)

func (ds DeliveryState) String() string { return string(ds) }

// Active reports whether updates are being ingested in this state.
func (ds DeliveryState) Active() bool {
	return ds == DeliveryPolling || ds == DeliveryWebhookActive
}

// ---------------------------------------------------------------------------

// ProviderType represents the kind of LLM provider.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
)

func (pt ProviderType) String() string { return string(pt) }

// ---------------------------------------------------------------------------

// Metadata is a generic key-value map for extensible properties.
type Metadata map[string]string

// Get returns a metadata value, or empty string if not present.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Set writes a metadata key-value pair. Initializes the map if nil.
func (m *Metadata) Set(key, value string) {
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = value
}
