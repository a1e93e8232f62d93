package internal

const (
	COOKIE_SESSION_NAME = "pf_session"

	// set on an auto download so the page can re-enable the form
	COOKIE_DOWNLOAD_NAME = "pf_download"
)
