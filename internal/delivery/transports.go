package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/gosnmp/gosnmp"
	"gopkg.in/gomail.v2"

	"pulse/internal/domain"
)

// deliveryResult carries the outcome a transport reports back to the
// worker loop for attempt logging and status transition.
type deliveryResult struct {
	OK         bool
	HTTPStatus *int
	Error      string
}

// deliverWebhook POSTs the job payload as JSON, grounded on worker.py's
// deliver_webhook: missing_url / url_blocked:<reason> / http_<status>.
func deliverWebhook(ctx context.Context, httpClient *http.Client, prodMode bool, integ domain.Integration, payload map[string]any) deliveryResult {
	rawURL, _ := integ.Config["url"].(string)
	if rawURL == "" {
		return deliveryResult{Error: "missing_url"}
	}

	if err := ValidateURL(ctx, nil, rawURL, prodMode); err != nil {
		return deliveryResult{Error: fmt.Sprintf("url_blocked:%s", err.Error())}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return deliveryResult{Error: fmt.Sprintf("encode_error:%s", err.Error())}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return deliveryResult{Error: fmt.Sprintf("request_error:%s", err.Error())}
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := integ.Config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return deliveryResult{Error: fmt.Sprintf("request_error:%s", err.Error())}
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	ok := status >= 200 && status < 300
	result := deliveryResult{OK: ok, HTTPStatus: &status}
	if !ok {
		result.Error = fmt.Sprintf("http_%d", status)
	}
	return result
}

// deliverSNMP sends a v2c or v3 TRAP carrying the alert fields as
// varbinds under the configured OID prefix, grounded on worker.py's
// deliver_snmp / send_alert_trap.
func deliverSNMP(ctx context.Context, prodMode bool, integ domain.Integration, payload map[string]any) deliveryResult {
	host, _ := integ.Config["snmp_host"].(string)
	if host == "" {
		return deliveryResult{Error: "missing_snmp_host"}
	}
	if prodMode {
		if err := validateHost(ctx, host); err != nil {
			return deliveryResult{Error: fmt.Sprintf("url_blocked:%s", err.Error())}
		}
	}

	port := uint16(162)
	if p, ok := integ.Config["snmp_port"].(float64); ok && p > 0 {
		port = uint16(p)
	}

	snmpConfig, _ := integ.Config["snmp_config"].(map[string]any)
	if len(snmpConfig) == 0 {
		return deliveryResult{Error: "missing_snmp_config"}
	}
	oidPrefix, _ := integ.Config["snmp_oid_prefix"].(string)
	if oidPrefix == "" {
		oidPrefix = "1.3.6.1.4.1.99999"
	}

	snmpClient := &gosnmp.GoSNMP{
		Target:  host,
		Port:    port,
		Timeout: 5 * time.Second,
		Retries: 1,
	}

	if user, ok := snmpConfig["user"].(string); ok && user != "" {
		snmpClient.Version = gosnmp.Version3
		snmpClient.SecurityModel = gosnmp.UserSecurityModel
		snmpClient.MsgFlags = gosnmp.AuthPriv
		authPass, _ := snmpConfig["auth"].(string)
		privPass, _ := snmpConfig["priv"].(string)
		snmpClient.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 user,
			AuthenticationProtocol:   gosnmp.SHA,
			AuthenticationPassphrase: authPass,
			PrivacyProtocol:          gosnmp.AES,
			PrivacyPassphrase:        privPass,
		}
	} else {
		community, _ := snmpConfig["community"].(string)
		if community == "" {
			community = "public"
		}
		snmpClient.Version = gosnmp.Version2c
		snmpClient.Community = community
	}

	if err := snmpClient.Connect(); err != nil {
		return deliveryResult{Error: fmt.Sprintf("snmp_connect_error:%s", err.Error())}
	}
	defer snmpClient.Conn.Close()

	trap := gosnmp.SnmpTrap{
		Variables: []gosnmp.SnmpPDU{
			{Name: oidPrefix + ".1", Type: gosnmp.OctetString, Value: fmt.Sprint(payload["alert_id"])},
			{Name: oidPrefix + ".2", Type: gosnmp.OctetString, Value: fmt.Sprint(payload["device_id"])},
			{Name: oidPrefix + ".3", Type: gosnmp.OctetString, Value: fmt.Sprint(payload["tenant_id"])},
			{Name: oidPrefix + ".4", Type: gosnmp.OctetString, Value: fmt.Sprint(payload["severity"])},
			{Name: oidPrefix + ".5", Type: gosnmp.OctetString, Value: fmt.Sprint(payload["summary"])},
		},
	}
	if _, err := snmpClient.SendTrap(trap); err != nil {
		return deliveryResult{Error: fmt.Sprintf("snmp_trap_error:%s", err.Error())}
	}
	return deliveryResult{OK: true}
}

// deliverEmail submits an SMTP message rendered from the integration's
// configured subject/body templates. Not present in worker.py — added
// per spec.md §4.4's email transport requirement.
func deliverEmail(ctx context.Context, prodMode bool, integ domain.Integration, payload map[string]any) deliveryResult {
	host, _ := integ.Config["smtp_host"].(string)
	if host == "" {
		return deliveryResult{Error: "missing_smtp_host"}
	}
	if prodMode {
		if err := validateHost(ctx, host); err != nil {
			return deliveryResult{Error: fmt.Sprintf("url_blocked:%s", err.Error())}
		}
	}
	to, _ := integ.Config["to"].(string)
	from, _ := integ.Config["from"].(string)
	if to == "" || from == "" {
		return deliveryResult{Error: "missing_email_addresses"}
	}

	port := 587
	if p, ok := integ.Config["smtp_port"].(float64); ok && p > 0 {
		port = int(p)
	}
	username, _ := integ.Config["username"].(string)
	password, _ := integ.Config["password"].(string)
	useTLS, _ := integ.Config["use_tls"].(bool)

	subject := renderTemplate(stringOr(integ.Config["subject_template"], "Pulse alert: {{alert_type}} on {{device_id}}"), payload)
	body := renderTemplate(stringOr(integ.Config["body_template"], "{{summary}}"), payload)

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(host, port, username, password)
	if useTLS {
		d.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	if err := d.DialAndSend(m); err != nil {
		return deliveryResult{Error: fmt.Sprintf("smtp_error:%s", err.Error())}
	}
	return deliveryResult{OK: true}
}

// deliverMQTT publishes the payload to a topic template substituted with
// alert fields, using the existing broker connection manager.
func deliverMQTT(ctx context.Context, cm *autopaho.ConnectionManager, integ domain.Integration, payload map[string]any) deliveryResult {
	if cm == nil {
		return deliveryResult{Error: "mqtt_not_connected"}
	}
	topicTemplate, _ := integ.Config["topic_template"].(string)
	if topicTemplate == "" {
		return deliveryResult{Error: "missing_topic_template"}
	}
	topic := renderTemplate(topicTemplate, payload)

	qos := byte(0)
	if q, ok := integ.Config["qos"].(float64); ok {
		qos = byte(q)
	}
	retain, _ := integ.Config["retain"].(bool)

	body, err := json.Marshal(payload)
	if err != nil {
		return deliveryResult{Error: fmt.Sprintf("encode_error:%s", err.Error())}
	}

	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: body,
		QoS:     qos,
		Retain:  retain,
	}); err != nil {
		return deliveryResult{Error: fmt.Sprintf("publish_error:%s", err.Error())}
	}
	return deliveryResult{OK: true}
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

// renderTemplate substitutes {{field}} placeholders with string-formatted
// payload values; unknown placeholders are left untouched.
func renderTemplate(tmpl string, payload map[string]any) string {
	out := tmpl
	for k, v := range payload {
		out = strings.ReplaceAll(out, "{{"+k+"}}", fmt.Sprint(v))
	}
	return out
}

// validateHost applies the SSRF policy to a bare hostname (SNMP/SMTP
// targets, which carry no scheme) by wrapping it as a URL for ValidateURL.
func validateHost(ctx context.Context, host string) error {
	return ValidateURL(ctx, nil, "https://"+host, true)
}
