package templates

import (
	"fmt"
	"html"
	"strings"
)

// RenderGenericEmail generates branded HTML for a generic email.
// The subject is displayed in the header banner, and bodyContent is plain text
// that gets HTML-escaped and has newlines converted to <br> tags.
func RenderGenericEmail(subject, bodyContent string) string {
	// HTML-escape the body to prevent injection, then convert newlines to <br>
	escaped := html.EscapeString(bodyContent)
	htmlBody := strings.ReplaceAll(escaped, "\n", "<br>")

	// HTML-escape the subject for safe display in the header
	safeSubject := html.EscapeString(subject)

	return fmt.Sprintf(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <meta http-equiv="Content-Type" content="text/html; charset=utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1, minimum-scale=1, maximum-scale=1">
  <title>%s</title>
  <style type="text/css">
    body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 0; background-color: #f4f7f6; }
    .container { max-width: 600px; margin: 0 auto; background-color: #ffffff; }
    .header { background: linear-gradient(135deg, #2dd4bf 0%%, #0d9488 100%%); padding: 40px 30px; text-align: center; }
    .header h1 { color: #fff; margin: 0; font-size: 24px; font-weight: 700; }
    .content { padding: 40px 30px; color: #1f2937; line-height: 1.6; font-size: 15px; }
    .footer { padding: 30px; text-align: center; color: #6b7280; font-size: 12px; border-top: 1px solid rgba(0,0,0,0.08); }
    .footer a { color: #0d9488; text-decoration: none; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>%s</h1>
    </div>
    <div class="content">
      %s
    </div>
    <div class="footer">
      <p>&copy; AllerBuddy | <a href="https://www.allerbuddy.app">allerbuddy.app</a></p>
      <p><a href="https://www.allerbuddy.app/support">Contact Support</a></p>
    </div>
  </div>
</body>
</html>`, safeSubject, safeSubject, htmlBody)
}

// RenderBuddyInviteEmail builds the email sent when someone is invited to
// be a buddy. The personal message is optional.
func RenderBuddyInviteEmail(fromName, message string) string {
	body := fmt.Sprintf("%s wants you as their allergy buddy on AllerBuddy.\n\n", fromName)
	if message != "" {
		body += fmt.Sprintf("They added a note:\n\"%s\"\n\n", message)
	}
	body += "As a buddy you will be alerted if they have an allergic emergency nearby, " +
		"with their location and what to do.\n\nOpen the app to accept the invitation."
	return RenderGenericEmail("You have a buddy invitation", body)
}

// RenderPasswordResetEmail builds the password reset email around the reset
// code.
func RenderPasswordResetEmail(fullName, token string) string {
	greeting := "Hi"
	if fullName != "" {
		greeting = fmt.Sprintf("Hi %s", fullName)
	}
	body := fmt.Sprintf("%s,\n\nUse this code to reset your AllerBuddy password:\n\n%s\n\n"+
		"The code expires in one hour. If you did not ask for a reset you can ignore this email.",
		greeting, token)
	return RenderGenericEmail("Reset your password", body)
}
