package connection

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/echobridge/alexaremote/internal/common/cnst"
	"go.uber.org/zap"
)

// Serialize encodes the session into the newline-delimited plain-text blob
// understood by Restore. It returns "" when no login has completed.
//
// Layout (version 7): version, frc, serial, device id, refresh token,
// site, device name, account customer id, login time (epoch millis),
// cookie count, then per cookie eleven presence-flagged fields.
func (c *Connection) Serialize() string {
	c.mu.Lock()
	refreshToken := c.refreshToken
	loginTime := c.loginTime
	site := c.amazonSite
	deviceName := c.deviceName
	customerID := c.customerID
	c.mu.Unlock()

	if refreshToken == "" || loginTime.IsZero() {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d\n", cnst.SerializeVersion)
	b.WriteString(c.identity.FRC)
	b.WriteString("\n")
	b.WriteString(c.identity.Serial)
	b.WriteString("\n")
	b.WriteString(c.identity.DeviceID)
	b.WriteString("\n")
	b.WriteString(refreshToken)
	b.WriteString("\n")
	b.WriteString(site)
	b.WriteString("\n")
	b.WriteString(deviceName)
	b.WriteString("\n")
	b.WriteString(customerID)
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d\n", loginTime.UnixMilli())

	cookies := c.cookies.All()
	fmt.Fprintf(&b, "%d\n", len(cookies))
	for _, cookie := range cookies {
		writeValue(&b, cookie.Name)
		writeValue(&b, cookie.Value)
		writeValue(&b, cookie.Comment)
		writeValue(&b, cookie.CommentURL)
		writeValue(&b, cookie.Domain)
		writeValue(&b, strconv.FormatInt(cookie.MaxAge, 10))
		writeValue(&b, cookie.Path)
		writeValue(&b, cookie.Portlist)
		writeValue(&b, strconv.Itoa(cookie.Version))
		writeValue(&b, strconv.FormatBool(cookie.Secure))
		writeValue(&b, strconv.FormatBool(cookie.Discard))
	}
	return b.String()
}

// writeValue emits one presence-flagged field: "0" for an absent value,
// "1" followed by the value on its own line otherwise.
func writeValue(b *strings.Builder, value string) {
	if value == "" {
		b.WriteString("0\n")
		return
	}
	b.WriteString("1\n")
	b.WriteString(value)
	b.WriteString("\n")
}

type blobReader struct {
	scanner *bufio.Scanner
	err     error
}

func (r *blobReader) line() string {
	if r.err != nil {
		return ""
	}
	if !r.scanner.Scan() {
		r.err = fmt.Errorf("%w: truncated", ErrSessionBlob)
		return ""
	}
	return r.scanner.Text()
}

// value reads one presence-flagged field. An absent field reads as "".
func (r *blobReader) value() string {
	if r.line() == "1" {
		return r.line()
	}
	return ""
}

func (r *blobReader) intValue() int64 {
	v, err := strconv.ParseInt(r.value(), 10, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%w: bad numeric field", ErrSessionBlob)
	}
	return v
}

// Restore rebuilds the session from a serialized blob. Versions 5 through 7
// are accepted; version 5 blobs carry a known-unreliable customer id that is
// ignored, version 6 dropped the field semantics so only version 7 trusts
// it. After decoding, the session is renewed and verified; restore succeeds
// only if verification does. The best-effort customer-id reconciliation
// never fails the restore.
func (c *Connection) Restore(ctx context.Context, blob, domainOverride string) error {
	loginTime, err := c.restoreSessionData(blob, domainOverride)
	if err != nil {
		return err
	}

	c.reconcile(ctx)

	ok, err := c.VerifyLogin(ctx)
	if err != nil {
		return &SessionError{Op: "verify restored session", Err: err}
	}
	if !ok {
		return &SessionError{Op: "restored session not authenticated"}
	}
	c.mu.Lock()
	c.loginTime = loginTime
	c.mu.Unlock()
	return nil
}

func (c *Connection) restoreSessionData(blob, domainOverride string) (time.Time, error) {
	if blob == "" {
		return time.Time{}, ErrSessionBlob
	}
	scanner := bufio.NewScanner(strings.NewReader(blob))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	r := &blobReader{scanner: scanner}

	version, err := strconv.Atoi(r.line())
	if err != nil || version < cnst.SerializeVersionMin || version > cnst.SerializeVersion {
		return time.Time{}, fmt.Errorf("%w: version %d", ErrSessionBlob, version)
	}

	identity := DeviceIdentity{
		FRC:      r.line(),
		Serial:   r.line(),
		DeviceID: r.line(),
	}
	refreshToken := r.line()
	domain := r.line()
	if domainOverride != "" {
		domain = domainOverride
	}
	deviceName := r.line()

	customerID := ""
	if version > 5 {
		stored := r.line()
		// version 5 and 6 blobs have an unreliable customer id
		if version > 6 && stored != "null" {
			customerID = stored
		}
	}

	millis, err := strconv.ParseInt(r.line(), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad login time", ErrSessionBlob)
	}
	loginTime := time.UnixMilli(millis)

	cookieCount, err := strconv.Atoi(r.line())
	if err != nil || cookieCount < 0 {
		return time.Time{}, fmt.Errorf("%w: bad cookie count", ErrSessionBlob)
	}

	c.cookies.Clear()
	for i := 0; i < cookieCount; i++ {
		cookie := &Cookie{
			Name:       r.value(),
			Value:      r.value(),
			Comment:    r.value(),
			CommentURL: r.value(),
			Domain:     r.value(),
			MaxAge:     r.intValue(),
			Path:       r.value(),
			Portlist:   r.value(),
		}
		cookie.Version = int(r.intValue())
		cookie.Secure = r.value() == "true"
		cookie.Discard = r.value() == "true"
		if r.err != nil {
			c.cookies.Clear()
			return time.Time{}, r.err
		}
		c.cookies.Add(cookie)
	}

	c.identity = identity
	c.mu.Lock()
	c.refreshToken = refreshToken
	c.deviceName = deviceName
	c.customerID = customerID
	c.setAmazonSite(domain)
	c.mu.Unlock()
	return loginTime, nil
}

// reconcile renews the restored session and, when no account customer id
// was recovered, infers it from the device list: first by this session's
// serial, then by the device Amazon names "This Device". Failures are
// logged, not propagated.
func (c *Connection) reconcile(ctx context.Context) {
	if _, err := c.CheckRenewSession(ctx); err != nil {
		c.logger.Debug("renewing restored session failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	customerID := c.customerID
	c.mu.Unlock()
	if customerID != "" {
		return
	}

	devices, err := c.GetDevices(ctx)
	if err != nil {
		c.logger.Debug("getting account customer id failed", zap.Error(err))
		return
	}
	for _, device := range devices {
		if device.SerialNumber == c.identity.Serial {
			c.mu.Lock()
			c.customerID = device.DeviceOwnerCustomerID
			c.mu.Unlock()
			return
		}
	}
	for _, device := range devices {
		if device.AccountName == cnst.ThisDeviceName {
			c.mu.Lock()
			c.customerID = device.DeviceOwnerCustomerID
			c.mu.Unlock()
			if device.SerialNumber != "" {
				c.identity.Serial = device.SerialNumber
			}
			return
		}
	}
}
