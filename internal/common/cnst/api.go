package cnst

// Metadata of the mobile application this client impersonates. The Alexa
// endpoints reject requests that do not look like the official iOS app, so
// these values must stay consistent across registration, token exchange and
// every later call.
const (
	AppVersion      = "2.2.223830.0"
	AppVersionShort = "2.2.223830"
	AppBundleID     = "com.amazon.echo"
	AppName         = "Amazon Alexa"
	OSName          = "iOS"
	OSVersion       = "11.4.1"
	HardwareVersion = "iPhone"
	SDKVersion      = "6.10.0"

	UserAgent = "AmazonWebView/Amazon Alexa/" + AppVersion + "/" + OSName + "/" + OSVersion + "/" + HardwareVersion
)

// DeviceIDSuffix is appended to every generated device id. Amazon uses it to
// recognize the client as an app-type device during registration.
const DeviceIDSuffix = "23413249564c5635564d32573831"

// DefaultAmazonSite is used until the account's authoritative regional
// domain has been discovered through the users/me endpoint.
const DefaultAmazonSite = "amazon.com"

// API paths on the regional alexa.<site> server.
const (
	PathBootstrap            = "/api/bootstrap"
	PathDevices              = "/api/devices-v2/device?cached=false"
	PathWakeWords            = "/api/wake-word?cached=true"
	PathSmartHome            = "/api/phoenix"
	PathSmartHomeState       = "/api/phoenix/state"
	PathPlayer               = "/api/np/player"
	PathMediaState           = "/api/media/state"
	PathCommand              = "/api/np/command"
	PathActivities           = "/api/activities"
	PathBluetooth            = "/api/bluetooth?cached=true"
	PathPlaylists            = "/api/cloudplayer/playlists"
	PathBehaviorsPreview     = "/api/behaviors/preview"
	PathBehaviorsAutomations = "/api/behaviors/automations?limit=2000"
	PathBehaviorsValidate    = "/api/behaviors/operation/validate"
	PathMusicEntities        = "/api/behaviors/entities?skillId=amzn1.ask.1p.music"
	PathNotifications        = "/api/notifications"
	PathCreateReminder       = "/api/notifications/createReminder"
	PathNotificationSounds   = "/api/notification/sounds"
	PathDeviceNotificationSt = "/api/device-notification-state"
	PathAscendingAlarm       = "/api/ascending-alarm"
	PathEnabledFeeds         = "/api/content-skills/enabled-feeds"
	PathEqualizer            = "/api/equalizer"
	PathUsersMe              = "/api/users/me?platform=ios&version=" + AppVersion
	PathTuneInQueueAndPlay   = "/api/tunein/queue-and-play"
	PathCloudQueueAndPlay    = "/api/cloudplayer/queue-and-play"
	PathBluetoothPairSink    = "/api/bluetooth/pair-sink"
	PathBluetoothDisconnect  = "/api/bluetooth/disconnect-sink"
)

// Fixed endpoints outside the regional server.
const (
	APIOrigin        = "https://api.amazon.com"
	AuthOrigin       = "https://www.amazon.com"
	PathAuthRegister = "/auth/register"
	PathAuthToken    = "/auth/token"
)

// RoutinesVersion is sent as header on behaviors calls.
const RoutinesVersion = "1.1.218665"

// Sequence node types of the behaviors execution model.
const (
	NodeTypeSequence = "com.amazon.alexa.behaviors.model.Sequence"
	NodeTypeParallel = "com.amazon.alexa.behaviors.model.ParallelNode"
	NodeTypeSerial   = "com.amazon.alexa.behaviors.model.SerialNode"
	NodeTypeOpaque   = "com.amazon.alexa.behaviors.model.OpaquePayloadOperationNode"
)

// Sequence commands understood by the behaviors endpoint.
const (
	CommandSpeak            = "Alexa.Speak"
	CommandAnnouncement     = "AlexaAnnouncement"
	CommandVolume           = "Alexa.DeviceControls.Volume"
	CommandMobilePush       = "Alexa.Notifications.SendMobilePush"
	CommandPlaySearchPhrase = "Alexa.Music.PlaySearchPhrase"
)

// Placeholder tokens found inside stored routine sequences. They must be
// replaced with the executing device's identity before submission.
const (
	TokenDeviceType   = "ALEXA_CURRENT_DEVICE_TYPE"
	TokenDeviceSerial = "ALEXA_CURRENT_DSN"
	TokenCustomerID   = "ALEXA_CUSTOMER_ID"
	TokenLocale       = "ALEXA_CURRENT_LOCALE"
)
