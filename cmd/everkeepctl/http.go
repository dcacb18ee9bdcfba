package main

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

var httpClient = resty.New().SetTimeout(30 * time.Second)

func doGet(url string) ([]byte, error) {
	resp, err := httpClient.R().Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}

func doPostJSON(url string, payload interface{}) ([]byte, error) {
	req := httpClient.R().SetHeader("Content-Type", "application/json")
	if payload != nil {
		req.SetBody(payload)
	}
	resp, err := req.Post(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}
