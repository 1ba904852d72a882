package internal

var SESConfig = sesConfig
