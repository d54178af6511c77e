package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func httpGet(u string) (string, int, error) {
	resp, err := httpClient.Get(u)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(b), resp.StatusCode, nil
}

func runSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	httpAddr := fs.String("http-addr", "http://localhost:8088", "daemon HTTP edge base URL")
	submitter := fs.String("submitter", "ibnctl", "submitter identity recorded on the intent")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: ibnctl submit [flags] \"<intent text>\"")
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(map[string]string{
		"text":      fs.Arg(0),
		"submitter": *submitter,
	}); err != nil {
		return err
	}

	resp, err := httpClient.Post(*httpAddr+"/intents", "application/json", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	httpAddr := fs.String("http-addr", "http://localhost:8088", "daemon HTTP edge base URL")
	status := fs.String("status", "", "filter by intent status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u := *httpAddr + "/intents"
	if *status != "" {
		u += "?status=" + url.QueryEscape(*status)
	}

	body, _, err := httpGet(u)
	if err != nil {
		return err
	}
	fmt.Println(body)
	return nil
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	httpAddr := fs.String("http-addr", "http://localhost:8088", "daemon HTTP edge base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: ibnctl get [flags] <intent-id>")
	}

	body, _, err := httpGet(*httpAddr + "/intents/" + url.PathEscape(fs.Arg(0)))
	if err != nil {
		return err
	}
	fmt.Println(body)
	return nil
}

func runRevoke(args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	httpAddr := fs.String("http-addr", "http://localhost:8088", "daemon HTTP edge base URL")
	submitter := fs.String("submitter", "ibnctl", "submitter identity recorded on the revocation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: ibnctl revoke [flags] <intent-id>")
	}

	u := *httpAddr + "/intents/" + url.PathEscape(fs.Arg(0)) + "?submitter=" + url.QueryEscape(*submitter)
	req, err := http.NewRequest(http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		fmt.Println("revoked")
		return nil
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed: %d", resp.StatusCode)
	}
	return nil
}
