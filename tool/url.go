package tool

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// RepoPath is where the share server exposes the published repository.
const RepoPath = "/fdroid/repo"

// BuildSharingURI builds the address a peer uses to fetch the repository.
// An empty host falls back to the first non-loopback IPv4 of this machine.
func BuildSharingURI(host string, port int) (string, error) {
	if host == "" {
		host = FirstLocalIPv4()
	}
	if host == "" {
		return "", fmt.Errorf("no usable IPv4 address for sharing")
	}
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   RepoPath,
	}
	return u.String(), nil
}
