package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Prefixes:  ".!#",
			LogLevel:  "info",
			BusBuffer: 100,
		},
		Transports: TransportsConfig{
			Gateway: GatewayConfig{
				Enabled: true,
				URL:     "ws://127.0.0.1:3100/events",
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
		},
		Gate: GateConfig{
			ChatMode:      "all",
			OperatingMode: "public",
		},
		Rental: RentalConfig{
			Enabled:   true,
			TrialDays: 3,
			AllowCommands: FlexStringList{
				"help", "menu", "price", "rent", "rentalstatus", "owner",
			},
		},
		Energy: EnergyConfig{
			Enabled: true,
			Cost:    1,
			Initial: 100,
			Exempt: FlexStringList{
				"help", "menu", "owner", "energy", "rentalstatus",
			},
		},
		Moderation: ModerationConfig{
			Enabled:   true,
			WarnLimit: 3,
		},
		AutoReply: AutoReplyConfig{
			Enabled:  false,
			RulesDir: "~/.wabot/autoreply",
		},
		Store: StoreConfig{
			DBPath: "~/.wabot/wabot.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}
