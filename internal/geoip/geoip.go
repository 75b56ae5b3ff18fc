package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Service MaxMind 国家库查询
type Service struct {
	db *geoip2.Reader
}

// New 打开 mmdb 文件
func New(dbPath string) (*Service, error) {
	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip db: %w", err)
	}
	return &Service{db: db}, nil
}

// Close 关闭数据库
func (s *Service) Close() error {
	return s.db.Close()
}

// Country 返回 host 的 ISO 国家码, host 可以带端口
func (s *Service) Country(host string) (string, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %s", host)
	}

	record, err := s.db.Country(ip)
	if err != nil {
		return "", fmt.Errorf("geoip lookup failed: %w", err)
	}
	return record.Country.IsoCode, nil
}
