package pdf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile は配信用PDFの種類です。
type Profile string

const (
	ProfileWeb    Profile = "web"
	ProfileMobile Profile = "mobile"
)

// Profiles は生成順の配信プロファイル一覧です。
var Profiles = []Profile{ProfileWeb, ProfileMobile}

// ProfileSettings は Ghostscript に渡す圧縮設定です。
type ProfileSettings struct {
	PDFSettings        string `yaml:"pdfSettings"`
	CompatibilityLevel string `yaml:"compatibilityLevel"`
	ImageResolution    int    `yaml:"imageResolution"`
}

// DefaultProfiles は標準の web/mobile 設定を返します。
func DefaultProfiles() map[Profile]ProfileSettings {
	return map[Profile]ProfileSettings{
		ProfileWeb:    {PDFSettings: "/ebook", CompatibilityLevel: "1.4"},
		ProfileMobile: {PDFSettings: "/screen", CompatibilityLevel: "1.4", ImageResolution: 96},
	}
}

type profilesFile struct {
	Profiles map[Profile]ProfileSettings `yaml:"profiles"`
}

// LoadProfiles は YAML ファイルからプロファイル設定を読み込み、標準設定に上書きします。
// path が空の場合は標準設定をそのまま返します。
func LoadProfiles(path string) (map[Profile]ProfileSettings, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("プロファイル設定の読み込みに失敗しました: %w", err)
	}
	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("プロファイル設定の解析に失敗しました: %w", err)
	}

	for name, override := range file.Profiles {
		base := profiles[name]
		if override.PDFSettings != "" {
			base.PDFSettings = override.PDFSettings
		}
		if override.CompatibilityLevel != "" {
			base.CompatibilityLevel = override.CompatibilityLevel
		}
		if override.ImageResolution > 0 {
			base.ImageResolution = override.ImageResolution
		}
		if base.PDFSettings == "" {
			return nil, fmt.Errorf("profile %q: pdfSettings is required", name)
		}
		if base.CompatibilityLevel == "" {
			base.CompatibilityLevel = "1.4"
		}
		profiles[name] = base
	}
	return profiles, nil
}
