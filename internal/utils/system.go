package utils

import (
	"os"
	"os/user"
	"regexp"
	"strconv"
	"strings"
)

var (
	invalidDeviceChars = regexp.MustCompile(`[^a-z0-9\-_]`)
	repeatedHyphens    = regexp.MustCompile(`-+`)
)

// GetUsername returns the current username.
func GetUsername() (string, error) {
	user, err := user.Current()
	if err != nil {
		return "", err
	}
	return user.Username, nil
}

// GetHostname returns the system hostname.
func GetHostname() (string, error) {
	return os.Hostname()
}

// SanitizeDeviceName lowercases name, turns spaces into hyphens and drops anything else
// that is not alphanumeric, a hyphen or an underscore.
func SanitizeDeviceName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")
	name = invalidDeviceChars.ReplaceAllString(name, "")
	name = repeatedHyphens.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")

	if name == "" {
		name = "device"
	}
	return name
}

// GenerateDeviceName derives a device name from the hostname, appending
// -2, -3, ... when it collides with an existing name.
func GenerateDeviceName(existingDeviceNames []string) (string, error) {
	hostname, err := GetHostname()
	if err != nil {
		username, userErr := GetUsername()
		if userErr != nil {
			hostname = "device"
		} else {
			hostname = username
		}
	}

	baseName := SanitizeDeviceName(hostname)
	deviceName := baseName

	existingSet := make(map[string]bool)
	for _, name := range existingDeviceNames {
		existingSet[strings.ToLower(name)] = true
	}

	suffix := 2
	for existingSet[strings.ToLower(deviceName)] {
		deviceName = baseName + "-" + strconv.Itoa(suffix)
		suffix++
	}

	return deviceName, nil
}
