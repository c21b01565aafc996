// Package jsons holds the wire-format decode targets for the Alexa web API.
// The connection engine treats these as opaque: fields exist only so that
// responses can be decoded and re-encoded, not because the engine reasons
// about them.
package jsons

import "encoding/json"

// Device is one entry of the devices-v2 listing.
type Device struct {
	AccountName           string   `json:"accountName"`
	SerialNumber          string   `json:"serialNumber"`
	DeviceType            string   `json:"deviceType"`
	DeviceFamily          string   `json:"deviceFamily"`
	DeviceOwnerCustomerID string   `json:"deviceOwnerCustomerId"`
	SoftwareVersion       string   `json:"softwareVersion"`
	Online                bool     `json:"online"`
	Capabilities          []string `json:"capabilities"`
}

// Devices is the devices-v2 envelope.
type Devices struct {
	Devices []Device `json:"devices"`
}

// BootstrapResult is returned by the identity-verification endpoint.
type BootstrapResult struct {
	Authentication *Authentication `json:"authentication"`
}

// Authentication carries the authenticated flag and account identity.
type Authentication struct {
	Authenticated bool   `json:"authenticated"`
	CustomerEmail string `json:"customerEmail"`
	CustomerID    string `json:"customerId"`
	CustomerName  string `json:"customerName"`
}

// WebSiteCookie is a cookie forwarded inside the app-registration request.
// Amazon expects capitalized keys here.
type WebSiteCookie struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// RegisterAppRequest is the app-registration payload.
type RegisterAppRequest struct {
	RequestedExtensions []string         `json:"requested_extensions"`
	Cookies             RegisterCookies  `json:"cookies"`
	RegistrationData    RegistrationData `json:"registration_data"`
	AuthData            AuthData         `json:"auth_data"`
	UserContextMap      UserContextMap   `json:"user_context_map"`
	RequestedTokenType  []string         `json:"requested_token_type"`
}

type RegisterCookies struct {
	WebsiteCookies []WebSiteCookie `json:"website_cookies"`
	Domain         string          `json:"domain"`
}

type RegistrationData struct {
	Domain          string `json:"domain"`
	AppVersion      string `json:"app_version"`
	DeviceType      string `json:"device_type"`
	DeviceName      string `json:"device_name"`
	OSVersion       string `json:"os_version"`
	DeviceSerial    string `json:"device_serial"`
	DeviceModel     string `json:"device_model"`
	AppName         string `json:"app_name"`
	SoftwareVersion string `json:"software_version"`
}

type AuthData struct {
	AccessToken string `json:"access_token"`
}

type UserContextMap struct {
	FRC string `json:"frc"`
}

// RegisterAppResponse is the registration result envelope.
type RegisterAppResponse struct {
	Response  *RegisterResponse `json:"response"`
	RequestID string            `json:"request_id"`
}

type RegisterResponse struct {
	Success *RegisterSuccess `json:"success"`
}

type RegisterSuccess struct {
	Extensions *RegisterExtensions `json:"extensions"`
	Tokens     *RegisterTokens     `json:"tokens"`
	CustomerID string              `json:"customer_id"`
}

type RegisterExtensions struct {
	DeviceInfo   *RegisterDeviceInfo   `json:"device_info"`
	CustomerInfo *RegisterCustomerInfo `json:"customer_info"`
}

type RegisterDeviceInfo struct {
	DeviceName         string `json:"device_name"`
	DeviceSerialNumber string `json:"device_serial_number"`
	DeviceType         string `json:"device_type"`
}

type RegisterCustomerInfo struct {
	AccountPool string `json:"account_pool"`
	UserID      string `json:"user_id"`
	HomeRegion  string `json:"home_region"`
	Name        string `json:"name"`
	GivenName   string `json:"given_name"`
}

type RegisterTokens struct {
	Bearer *RegisterBearer `json:"bearer"`
}

type RegisterBearer struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

// ExchangeTokenResponse is returned by the token-exchange endpoint. The
// cookies map is keyed by the domain the cookies belong to.
type ExchangeTokenResponse struct {
	Response *ExchangeResponse `json:"response"`
}

type ExchangeResponse struct {
	Tokens *ExchangeTokens `json:"tokens"`
}

type ExchangeTokens struct {
	Cookies map[string][]ExchangeCookie `json:"cookies"`
}

// ExchangeCookie uses capitalized keys on the wire.
type ExchangeCookie struct {
	Name     string `json:"Name"`
	Value    string `json:"Value"`
	Path     string `json:"Path"`
	Expires  string `json:"Expires"`
	Secure   *bool  `json:"Secure"`
	HTTPOnly *bool  `json:"HttpOnly"`
}

// RenewTokenResponse is returned by the token-renewal endpoint.
type RenewTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   string `json:"expires_in"`
}

// UsersMeResponse identifies the account's authoritative regional domain.
type UsersMeResponse struct {
	CountryOfResidence    string `json:"countryOfResidence"`
	Email                 string `json:"email"`
	FullName              string `json:"fullName"`
	ID                    string `json:"id"`
	MarketPlaceDomainName string `json:"marketPlaceDomainName"`
	MarketPlaceID         string `json:"marketPlaceId"`
	MarketPlaceLocale     string `json:"marketPlaceLocale"`
}

// PlayerState is the np/player response.
type PlayerState struct {
	PlayerInfo *PlayerInfo `json:"playerInfo"`
}

type PlayerInfo struct {
	State    string          `json:"state"`
	QueueID  string          `json:"queueId"`
	MediaID  string          `json:"mediaId"`
	InfoText *PlayerInfoText `json:"infoText"`
	Provider *PlayerProvider `json:"provider"`
	Volume   *PlayerVolume   `json:"volume"`
	Progress *PlayerProgress `json:"progress"`
}

type PlayerInfoText struct {
	Title    string `json:"title"`
	SubText1 string `json:"subText1"`
	SubText2 string `json:"subText2"`
}

type PlayerProvider struct {
	ProviderName string `json:"providerName"`
}

type PlayerVolume struct {
	Volume int  `json:"volume"`
	Muted  bool `json:"muted"`
}

type PlayerProgress struct {
	MediaProgress int64 `json:"mediaProgress"`
	MediaLength   int64 `json:"mediaLength"`
}

// MediaState is the media/state response.
type MediaState struct {
	ClientID        string `json:"clientId"`
	ContentID       string `json:"contentId"`
	ContentType     string `json:"contentType"`
	CurrentState    string `json:"currentState"`
	Muted           bool   `json:"muted"`
	ProgressSeconds int    `json:"progressSeconds"`
	ProviderID      string `json:"providerId"`
	QueueID         string `json:"queueId"`
	Volume          int    `json:"volume"`
}

// Activity is one history entry of the activities endpoint.
type Activity struct {
	ID                string `json:"id"`
	ActivityStatus    string `json:"activityStatus"`
	CreationTimestamp int64  `json:"creationTimestamp"`
	Description       string `json:"description"`
}

// Activities is the activities envelope.
type Activities struct {
	Activities []Activity `json:"activities"`
}

// WakeWord is one wake-word assignment.
type WakeWord struct {
	Active             bool   `json:"active"`
	DeviceSerialNumber string `json:"deviceSerialNumber"`
	DeviceType         string `json:"deviceType"`
	WakeWord           string `json:"wakeWord"`
}

type WakeWords struct {
	WakeWords []WakeWord `json:"wakeWords"`
}

// BluetoothState describes one device's bluetooth pairing state.
type BluetoothState struct {
	DeviceSerialNumber string          `json:"deviceSerialNumber"`
	DeviceType         string          `json:"deviceType"`
	Online             bool            `json:"online"`
	PairedDeviceList   []PairedDevice  `json:"pairedDeviceList"`
}

type PairedDevice struct {
	Address      string `json:"address"`
	Connected    bool   `json:"connected"`
	FriendlyName string `json:"friendlyName"`
}

type BluetoothStates struct {
	BluetoothStates []BluetoothState `json:"bluetoothStates"`
}

// Playlists is the cloudplayer playlists response; the playlist map layout
// varies by marketplace, so it stays raw.
type Playlists struct {
	Playlists json.RawMessage `json:"playlists"`
}

// NotificationSound is one selectable alert sound.
type NotificationSound struct {
	DisplayName string `json:"displayName"`
	FolderID    string `json:"folderId"`
	ID          string `json:"id"`
	ProviderID  string `json:"providerId"`
	SampleURL   string `json:"sampleUrl"`
}

type NotificationSounds struct {
	NotificationSounds []NotificationSound `json:"notificationSounds"`
}

// NotificationRequest creates a reminder/alarm/timer.
type NotificationRequest struct {
	Type               string             `json:"type"`
	ID                 string             `json:"id"`
	Status             string             `json:"status"`
	DeviceSerialNumber string             `json:"deviceSerialNumber"`
	DeviceType         string             `json:"deviceType"`
	CreatedDate        int64              `json:"createdDate"`
	AlarmTime          int64              `json:"alarmTime"`
	OriginalDate       string             `json:"originalDate"`
	OriginalTime       string             `json:"originalTime"`
	ReminderLabel      *string            `json:"reminderLabel"`
	Sound              *NotificationSound `json:"sound"`
	IsRecurring        bool               `json:"isRecurring"`
	TimeZoneID         *string            `json:"timeZoneId"`
}

// NotificationResponse mirrors the created notification.
type NotificationResponse struct {
	ID                 string             `json:"id"`
	Type               string             `json:"type"`
	Status             string             `json:"status"`
	DeviceSerialNumber string             `json:"deviceSerialNumber"`
	DeviceType         string             `json:"deviceType"`
	AlarmTime          int64              `json:"alarmTime"`
	OriginalDate       string             `json:"originalDate"`
	OriginalTime       string             `json:"originalTime"`
	ReminderLabel      string             `json:"reminderLabel"`
	RemainingTime      int64              `json:"remainingTime"`
	Sound              *NotificationSound `json:"sound"`
}

type Notifications struct {
	Notifications []NotificationResponse `json:"notifications"`
}

// Automation is one stored routine. The sequence is opaque: it is re-encoded
// with identity tokens substituted before submission.
type Automation struct {
	AutomationID string              `json:"automationId"`
	Name         string              `json:"name"`
	Triggers     []AutomationTrigger `json:"triggers"`
	Sequence     json.RawMessage     `json:"sequence"`
	Status       string              `json:"status"`
}

type AutomationTrigger struct {
	Payload *TriggerPayload `json:"payload"`
}

type TriggerPayload struct {
	Utterance string `json:"utterance"`
	Locale    string `json:"locale"`
}

// StartRoutineRequest submits a behavior to the execution endpoint.
type StartRoutineRequest struct {
	BehaviorID   string  `json:"behaviorId,omitempty"`
	SequenceJSON string  `json:"sequenceJson,omitempty"`
	Status       *string `json:"status,omitempty"`
}

// AnnouncementContent is one spoken/displayed announcement item.
type AnnouncementContent struct {
	Locale  string              `json:"locale"`
	Display AnnouncementDisplay `json:"display"`
	Speak   AnnouncementSpeak   `json:"speak"`
}

type AnnouncementDisplay struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type AnnouncementSpeak struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// AnnouncementTarget fans one announcement out to several devices.
type AnnouncementTarget struct {
	CustomerID string         `json:"customerId"`
	Devices    []TargetDevice `json:"devices"`
}

type TargetDevice struct {
	DeviceSerialNumber string `json:"deviceSerialNumber"`
	DeviceTypeID       string `json:"deviceTypeId"`
}

// DeviceNotificationState holds a device's notification volume.
type DeviceNotificationState struct {
	DeviceSerialNumber string `json:"deviceSerialNumber"`
	DeviceType         string `json:"deviceType"`
	SoftwareVersion    string `json:"softwareVersion"`
	VolumeLevel        int    `json:"volumeLevel"`
}

type DeviceNotificationStates struct {
	DeviceNotificationStates []DeviceNotificationState `json:"deviceNotificationStates"`
}

// AscendingAlarmModel holds a device's ascending-alarm switch.
type AscendingAlarmModel struct {
	AscendingAlarmEnabled bool    `json:"ascendingAlarmEnabled"`
	DeviceSerialNumber    string  `json:"deviceSerialNumber"`
	DeviceType            string  `json:"deviceType"`
	DeviceAccountID       *string `json:"deviceAccountId"`
}

type AscendingAlarms struct {
	AscendingAlarmModelList []AscendingAlarmModel `json:"ascendingAlarmModelList"`
}

// Feed is one flash-briefing source.
type Feed struct {
	FeedID   string `json:"feedId"`
	Name     string `json:"name"`
	SkillID  string `json:"skillId"`
	ImageURL string `json:"imageUrl"`
}

type EnabledFeeds struct {
	EnabledFeeds []Feed `json:"enabledFeeds"`
}

// Equalizer holds a device's audio tuning.
type Equalizer struct {
	Bass   int `json:"bass"`
	Mid    int `json:"mid"`
	Treble int `json:"treble"`
}

// MusicProvider is one entry of the behaviors music entities listing.
type MusicProvider struct {
	ID                  string   `json:"id"`
	DisplayName         string   `json:"displayName"`
	AvailabilityStatus  string   `json:"availability"`
	SupportedProperties []string `json:"supportedProperties"`
}

// PlaySearchPhraseOperationPayload drives voice-command music playback.
type PlaySearchPhraseOperationPayload struct {
	CustomerID            string  `json:"customerId,omitempty"`
	DeviceType            string  `json:"deviceType,omitempty"`
	DeviceSerialNumber    string  `json:"deviceSerialNumber,omitempty"`
	Locale                *string `json:"locale"`
	MusicProviderID       string  `json:"musicProviderId"`
	SearchPhrase          string  `json:"searchPhrase"`
	SanitizedSearchPhrase string  `json:"sanitizedSearchPhrase,omitempty"`
}

// PlayValidationResult is the behaviors validate response.
type PlayValidationResult struct {
	Type             string                            `json:"type"`
	OperationPayload *PlaySearchPhraseOperationPayload `json:"operationPayload"`
}

// SmartHomeDevice is a leaf of the phoenix network tree.
type SmartHomeDevice struct {
	EntityID     string          `json:"entityId"`
	ApplianceID  string          `json:"applianceId"`
	FriendlyName string          `json:"friendlyName"`
	Actions      []string        `json:"actions"`
	Raw          json.RawMessage `json:"-"`
}

// SmartHomeGroup is a grouping node of the phoenix network tree.
type SmartHomeGroup struct {
	ApplianceGroupName string          `json:"applianceGroupName"`
	GroupID            string          `json:"groupId"`
	Raw                json.RawMessage `json:"-"`
}

// NetworkDetails wraps the phoenix response; networkDetail is a JSON string
// containing the actual tree.
type NetworkDetails struct {
	NetworkDetail string `json:"networkDetail"`
}
