package domain

// BotState is the persisted run state of a bot.
type BotState string

const (
	BotRunning BotState = "running"
	BotStopped BotState = "stopped"
)

// StrategySpec names a strategy and carries its settings.
type StrategySpec struct {
	Name     string         `yaml:"name" json:"name"`
	Settings map[string]any `yaml:"settings" json:"settings"`
}

// BotRecord is the saved definition of one bot.
type BotRecord struct {
	ID               int64             `yaml:"id" json:"id"`
	Name             string            `yaml:"name" json:"name"`
	Wallet           string            `yaml:"wallet" json:"wallet"`
	InitialInventory map[string]string `yaml:"initialInventory" json:"initialInventory"`
	Status           BotState          `yaml:"status" json:"status"`
	Strategy         StrategySpec      `yaml:"strategy" json:"strategy"`
}

// BotSummary is a one-line status of a bot for operators.
type BotSummary struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Strategy   string   `json:"strategy"`
	Pairs      []string `json:"pairs"`
	Status     BotState `json:"status"`
	ErrorCount int      `json:"error_count"`
}

// StatusReport aggregates all bots.
type StatusReport struct {
	TotalBots   int          `json:"total_bots"`
	RunningBots int          `json:"running_bots"`
	Bots        []BotSummary `json:"bots"`
}
