package app

const (
	Name               = "paceclub"
	ConfigFilename     = "config.json"
	DBFilename         = "cache.db"
	LogFilename        = "app.log"
	RecentMessagesLoad = 50
)
