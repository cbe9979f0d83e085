package localrepo

// AppMeta is the app.yaml found in each catalog entry.
type AppMeta struct {
	Name        string `yaml:"name"`
	Summary     string `yaml:"summary,omitempty"`
	VersionName string `yaml:"version_name"`
	VersionCode int    `yaml:"version_code"`
	Package     string `yaml:"package"`        // file name inside the app directory
	Icon        string `yaml:"icon,omitempty"` // file name inside the app directory
}

// Index is the repository index document served to peers.
type Index struct {
	Repo IndexRepo  `json:"repo"`
	Apps []IndexApp `json:"apps"`
}

type IndexRepo struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
}

type IndexApp struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Summary     string `json:"summary,omitempty"`
	VersionName string `json:"versionName"`
	VersionCode int    `json:"versionCode"`
	ApkName     string `json:"apkName"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash"`
	HashType    string `json:"hashType"`
	Icon        string `json:"icon,omitempty"`

	source  string // package path in the catalog
	iconSrc string
}
